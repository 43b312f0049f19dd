package main

// Options is the root command that groups sub-commands. The struct tags are
// interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Config  string `short:"f" long:"config" description:"config YAML path"`
	Verbose bool   `short:"v" long:"verbose" description:"log at debug level"`

	Coach       CoachCmd       `command:"coach" description:"Ask the learning coach a question"`
	Support     SupportCmd     `command:"support" description:"Talk to the support bot"`
	Quiz        QuizCmd        `command:"quiz" description:"Generate a multiple-choice quiz"`
	Path        PathCmd        `command:"path" description:"Generate a learning path for a subject"`
	Insights    InsightsCmd    `command:"insights" description:"Turn class performance data into teaching recommendations"`
	Originality OriginalityCmd `command:"originality" description:"Score a text for originality"`
	Visual      VisualCmd      `command:"visual" description:"Explain a topic visually"`
	Roster      RosterCmd      `command:"roster" description:"Manage the class roster"`
	Personas    PersonasCmd    `command:"personas" description:"List study-bot personas"`
}

var opts Options
