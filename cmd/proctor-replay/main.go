// Command proctor-replay runs a recorded signal script through the
// proctoring engine on a simulated clock and prints every verdict and the
// resulting audit log.
package main

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
)

func main() {
	var (
		policyFile string
		mode       string
		format     string
		verbose    bool
	)
	flag.StringVar(&policyFile, "policy", "", "YAML policy file")
	flag.StringVar(&mode, "mode", "global", "Escalation mode: global or per_category")
	flag.StringVar(&format, "format", "auto", "Output format: auto, pretty or json")
	flag.BoolVar(&verbose, "v", false, "Include engine debug logs")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	out := zerolog.New(logger.Writer(format, os.Stdout)).With().Logger()

	engineLog := zerolog.Nop()
	if verbose {
		engineLog = zerolog.New(logger.Writer(format, os.Stderr)).Level(zerolog.DebugLevel)
	}

	cfg := &config.Config{
		ShortGrace:      time.Second,
		LongGrace:       3 * time.Second,
		AutoSubmitDelay: 3 * time.Second,
		EscalationMode:  mode,
		PolicyFile:      policyFile,
	}
	pc, err := cfg.Proctor()
	if err != nil {
		out.Fatal().Err(err).Msg("Invalid policy")
	}

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			out.Fatal().Err(err).Msg("Cannot open script")
		}
		defer f.Close()
		in = f
	}

	steps, err := parseScript(in)
	if err != nil {
		out.Fatal().Err(err).Msg("Invalid script")
	}

	res, err := replay(pc, steps, engineLog)
	if err != nil {
		out.Fatal().Err(err).Msg("Replay failed")
	}

	for _, o := range res.Outcomes {
		out.Info().
			Dur("t", o.At).
			Str("kind", string(o.Kind)).
			Bool("prevent", o.Prevent).
			Str("category", string(o.Category)).
			Str("state", string(o.State)).
			Msg("verdict")
	}
	for _, r := range res.Records {
		out.Info().
			Dur("t", r.RecordedAt.Sub(replayEpoch)).
			Str("category", r.Category).
			Int("question", r.QuestionNumber).
			Msg(r.Description)
	}

	ev := out.Info().Str("final_state", string(res.Final)).Int("records", len(res.Records))
	if res.AutoSubmit != nil {
		ev = ev.Str("auto_submit_reason", res.AutoSubmit.Reason)
	}
	ev.Msg("replay complete")
}
