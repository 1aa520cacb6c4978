package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/stormqa/stormqa/internal/analysis"
	"github.com/stormqa/stormqa/internal/controlplane/runmanager"
	"github.com/stormqa/stormqa/internal/engine"
	"github.com/stormqa/stormqa/internal/session"
	"github.com/stormqa/stormqa/internal/types"
)

// ErrTestFailed is returned when a run ends without passing.
var ErrTestFailed = errors.New("test did not pass")

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		scriptPath string
		interval   time.Duration
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "run <file.sqa>",
		Short: "Run a scenario against a scripted engine",
		Long: `Run loads a scenario, starts a test and follows it until the engine
reports a result. The engine replays a JSON-lines script of pushes:

  {"type":"telemetry","data":{"active_users":10,"requests_per_second":40,"avg_latency_ms":85,"failed_count":0}}
  {"type":"finished","data":{"test_result":{"status":"passed","failures":[]},"throughput_rps":42}}
  {"type":"error","data":"Target unreachable"}

Press Ctrl+C to abort the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(scriptPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = opts.cfg.Engine.ScriptInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracer, metrics, shutdown, err := setupObservability(ctx, opts.cfg.OTel)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()

			scripted := engine.NewScripted(script, interval)
			guarded := engine.NewGuarded(scripted, engine.BreakerSettings{
				Name:             "engine",
				MaxRequests:      opts.cfg.Engine.BreakerMaxRequests,
				Interval:         opts.cfg.Engine.BreakerInterval,
				Timeout:          opts.cfg.Engine.BreakerTimeout,
				FailureThreshold: opts.cfg.Engine.BreakerFailureThreshold,
				OnStateChange: func(name string, from, to gobreaker.State) {
					opts.logger.Logger().Sugar().Warnw("breaker_state_change", "name", name, "from", from.String(), "to", to.String())
				},
			})

			sess := session.New(guarded, scripted, session.Options{
				BufferCapacity:        opts.cfg.Telemetry.Capacity,
				ChartRefreshPerSecond: opts.cfg.Telemetry.ChartRefreshPerSecond,
				ChartRefreshBurst:     opts.cfg.Telemetry.ChartRefreshBurst,
				AbortGrace:            opts.cfg.Engine.AbortGrace,
				Events:                opts.logger,
				Metrics:               metrics,
				Tracer:                tracer,
			})
			defer sess.Close()

			if err := sess.LoadFile(args[0]); err != nil {
				return err
			}

			watch, cancelWatch := sess.Watch(64)
			defer cancelWatch()

			runID, err := sess.Start(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s started\n", runID)

			return follow(ctx, out, sess, watch, quiet)
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "JSON-lines engine script (required)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between scripted pushes (default from config)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print live telemetry")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func readScript(path string) ([]engine.Push, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return engine.LoadScript(f)
}

// follow prints live stats until the run reaches a terminal state.
func follow(ctx context.Context, out io.Writer, sess *session.Session, watch <-chan session.Event, quiet bool) error {
	interrupted := ctx.Done()
	// Watch events can be dropped when the channel is full; poll as a fallback.
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-poll.C:
			if st := sess.Status(); st.State.IsTerminal() {
				return report(out, sess, st)
			}
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "Aborting...")
			if err := sess.Abort(context.Background()); err != nil && !runmanager.IsNotRunning(err) {
				fmt.Fprintln(out, types.Display(err))
			}
		case ev, ok := <-watch:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case session.EventTelemetry:
				if !quiet {
					fmt.Fprintf(out, "users=%d rps=%.1f failed=%d\n", ev.Status.Live.Users, ev.Status.Live.RPS, ev.Status.Live.Failed)
				}
			case session.EventState:
				if ev.Status.State.IsTerminal() {
					return report(out, sess, ev.Status)
				}
			}
		}
	}
}

func report(out io.Writer, sess *session.Session, st runmanager.Status) error {
	switch st.State {
	case runmanager.RunStateFinished:
		var res analysis.Result
		if st.Summary != nil {
			res = analysis.Evaluate(*st.Summary)
		}
		fmt.Fprintln(out, res.Headline())
		if !res.Passed() {
			return ErrTestFailed
		}
		return nil
	case runmanager.RunStateFailed:
		return sess.RunError()
	default:
		fmt.Fprintln(out, "Test aborted.")
		return ErrTestFailed
	}
}
