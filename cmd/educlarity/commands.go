package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
	"github.com/ZanzyTHEbar/educlarity/educlarity/roster"
)

const defaultVoiceMIME = "audio/webm"

// CoachCmd asks the learning coach one question.
type CoachCmd struct {
	Mode         string `short:"m" long:"mode" choice:"LEARNING" choice:"ANSWER" default:"LEARNING" description:"guided hints or direct answers"`
	Language     string `short:"l" long:"language" choice:"English" choice:"Hindi" choice:"Hinglish" choice:"Tamil" choice:"Telugu" choice:"Urdu" default:"English" description:"reply language"`
	Persona      string `short:"p" long:"persona" description:"persona id to role-play"`
	Voice        string `long:"voice" description:"audio file sent as the question"`
	SpeakTo      string `long:"speak-to" description:"write a spoken reply to this file"`
	Conversation string `short:"c" long:"conversation" description:"conversation id for persisted history"`
}

func (c *CoachCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		req := harness.CoachRequest{
			History:        a.history(ctx, c.Conversation),
			Message:        strings.Join(args, " "),
			Mode:           learning.CoachMode(c.Mode),
			Language:       learning.Language(c.Language),
			PersonaID:      c.Persona,
			SpeakReply:     c.SpeakTo != "",
			ConversationID: c.Conversation,
		}
		if c.Voice != "" {
			data, err := os.ReadFile(c.Voice)
			if err != nil {
				return fmt.Errorf("read voice input: %w", err)
			}
			req.Audio = &ports.Blob{MIMEType: audioMIME(c.Voice), Data: data}
		}

		reply := g.CoachReply(ctx, req)
		fmt.Println(reply.Text)
		if c.SpeakTo != "" && len(reply.Audio) > 0 {
			return os.WriteFile(c.SpeakTo, reply.Audio, 0o644)
		}
		return nil
	})
}

// SupportCmd sends one message to the support bot. Teacher mode lets the bot
// change the roster.
type SupportCmd struct {
	Teacher      bool   `short:"t" long:"teacher" description:"teacher mode with roster actions"`
	Conversation string `short:"c" long:"conversation" description:"conversation id for persisted history"`
}

func (c *SupportCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		message, err := readInput(args, os.Stdin)
		if err != nil {
			return err
		}
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		req := harness.SupportRequest{
			History:        a.history(ctx, c.Conversation),
			Message:        message,
			ConversationID: c.Conversation,
		}
		if c.Teacher {
			caps := roster.NewCapabilities(a.roster)
			req.Capabilities = caps
			req.Roster = caps.ContextLines(ctx)
		}
		fmt.Println(g.SupportReply(ctx, req))
		return nil
	})
}

// QuizCmd generates a quiz on a topic.
type QuizCmd struct {
	Difficulty string `short:"d" long:"difficulty" default:"Medium" description:"quiz difficulty"`
}

func (c *QuizCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		topic, err := readInput(args, os.Stdin)
		if err != nil {
			return err
		}
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		return printJSON(g.GenerateQuiz(ctx, topic, c.Difficulty))
	})
}

// PathCmd generates a learning path.
type PathCmd struct{}

func (c *PathCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		subject, err := readInput(args, os.Stdin)
		if err != nil {
			return err
		}
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		return printJSON(g.GenerateLearningPath(ctx, subject))
	})
}

// InsightsCmd analyses class performance data read from a file or stdin.
type InsightsCmd struct {
	File      string `short:"i" long:"input" description:"performance data file, stdin when empty"`
	ExportCSV string `long:"export-csv" description:"also write the topic scores as CSV to this file, - for stdout"`
}

func (c *InsightsCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		data, err := c.read(args)
		if err != nil {
			return err
		}
		if c.ExportCSV != "" {
			if err := c.export(data); err != nil {
				return err
			}
		}
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		return printJSON(g.GenerateTeacherInsights(ctx, data))
	})
}

func (c *InsightsCmd) read(args []string) (string, error) {
	if c.File == "" {
		return readInput(args, os.Stdin)
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return "", fmt.Errorf("read performance data: %w", err)
	}
	return string(data), nil
}

func (c *InsightsCmd) export(data string) error {
	if c.ExportCSV == "-" {
		return exportScores(data, os.Stdout)
	}
	f, err := os.Create(c.ExportCSV)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := exportScores(data, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// exportScores writes the topic scores found in data as CSV.
func exportScores(data string, w io.Writer) error {
	scores, ok := harness.TryParseJSON[[]learning.TopicScore](data)
	if !ok || len(scores) == 0 {
		return errors.New("performance data holds no topic scores")
	}
	return learning.ExportCSV(w, scores)
}

// OriginalityCmd scores a text for originality.
type OriginalityCmd struct{}

func (c *OriginalityCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		text, err := readInput(args, os.Stdin)
		if err != nil {
			return err
		}
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		return printJSON(g.CheckOriginality(ctx, text))
	})
}

// VisualCmd explains a topic and saves the generated image, if any.
type VisualCmd struct {
	Out string `short:"o" long:"out" description:"write the generated image to this file"`
}

func (c *VisualCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		g, err := a.gateway(ctx)
		if err != nil {
			return err
		}
		aid := g.GenerateVisualAid(ctx, strings.Join(args, " "))
		if aid.Empty() {
			fmt.Println(harness.NoResponseMessage)
			return nil
		}
		if aid.Text != "" {
			fmt.Println(aid.Text)
		}
		if c.Out != "" && len(aid.Image) > 0 {
			return os.WriteFile(c.Out, aid.Image, 0o644)
		}
		return nil
	})
}

// RosterCmd groups roster sub-commands.
type RosterCmd struct {
	List   RosterListCmd   `command:"list" description:"List students, newest first"`
	Add    RosterAddCmd    `command:"add" description:"Add a student"`
	Remove RosterRemoveCmd `command:"remove" description:"Remove a student by name"`
	Export RosterExportCmd `command:"export" description:"Export the register as CSV"`
}

type RosterListCmd struct{}

func (c *RosterListCmd) Execute(_ []string) error {
	return run(func(ctx context.Context, a *app) error {
		for _, line := range roster.ContextLines(a.roster.List(ctx)) {
			fmt.Println(line)
		}
		return nil
	})
}

type RosterAddCmd struct {
	Name       string `short:"n" long:"name" required:"true" description:"student name"`
	Grade      string `short:"g" long:"grade" description:"current grade"`
	Attendance string `short:"a" long:"attendance" description:"attendance percentage"`
	Status     string `short:"s" long:"status" description:"At Risk, Stable or Excelling"`
}

func (c *RosterAddCmd) Execute(_ []string) error {
	return run(func(ctx context.Context, a *app) error {
		msg := roster.NewCapabilities(a.roster).AddEntity(ctx, ports.EntityFields{
			Name:       c.Name,
			Grade:      c.Grade,
			Attendance: c.Attendance,
			Status:     c.Status,
		})
		fmt.Println(msg)
		return nil
	})
}

type RosterRemoveCmd struct{}

func (c *RosterRemoveCmd) Execute(args []string) error {
	return run(func(ctx context.Context, a *app) error {
		fmt.Println(roster.NewCapabilities(a.roster).RemoveEntity(ctx, strings.Join(args, " ")))
		return nil
	})
}

type RosterExportCmd struct {
	Out string `short:"o" long:"out" default:"-" description:"CSV destination, stdout by default"`
}

func (c *RosterExportCmd) Execute(_ []string) error {
	return run(func(ctx context.Context, a *app) error {
		var sb strings.Builder
		if err := roster.ExportRegister(&sb, a.roster.List(ctx)); err != nil {
			return err
		}
		return writeOutput(c.Out, []byte(sb.String()))
	})
}

// PersonasCmd lists the configured personas and their greetings.
type PersonasCmd struct{}

func (c *PersonasCmd) Execute(_ []string) error {
	return run(func(ctx context.Context, a *app) error {
		catalog, err := harness.NewFactory(a.cfg, a.conn, a.logger).CreatePersonas()
		if err != nil {
			return err
		}
		for _, p := range catalog.List() {
			fmt.Printf("%s\t%s %s (%s): %s\n", p.ID, p.Icon, p.Name, p.Subject, harness.Greeting(p))
		}
		return nil
	})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func audioMIME(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); strings.HasPrefix(t, "audio/") {
		return t
	}
	return defaultVoiceMIME
}
