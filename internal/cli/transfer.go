package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reclabs/recbridge/internal/constants"
	"github.com/reclabs/recbridge/internal/events"
	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/progress"
	"github.com/reclabs/recbridge/internal/rec"
	"github.com/reclabs/recbridge/internal/services"
	"github.com/reclabs/recbridge/internal/transfer"
)

func newTransferCmd() *cobra.Command {
	var account, transferType string

	cmd := &cobra.Command{
		Use:   "transfer <src>... <dest>",
		Short: "Run one or more transfers and wait for them",
		Long: `Run transfers in-process and wait for completion. The transfer type
selects the direction: webdav moves Rec content to the PanDav endpoint,
disk downloads Rec content to the local disk, upload pushes local content
to a Rec folder.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			taskType := transfer.Type(transferType)
			switch taskType {
			case transfer.TypeWebDAV, transfer.TypeDisk, transfer.TypeUpload:
			default:
				return fmt.Errorf("unknown transfer type %q", transferType)
			}

			client, err := connect(cmd.Context(), cfg, account)
			if err != nil {
				return err
			}
			deps := services.Deps{
				RecFS:   rec.NewFS(client),
				Local:   services.NewLocalBrowser(),
				Log:     logger.Child("backend"),
				Workers: cfg.Workers,
			}
			if taskType == transfer.TypeWebDAV {
				deps.Dav, err = davClient(cfg, account)
				if err != nil {
					return err
				}
			}
			backend, err := services.NewBackend(taskType, deps)
			if err != nil {
				return err
			}

			sources := args[:len(args)-1]
			dest := args[len(args)-1]
			return runTransfers(cmd.Context(), taskType, backend, sources, dest, logger)
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Rec account name")
	cmd.Flags().StringVarP(&transferType, "type", "t", "disk", "transfer type: webdav, disk or upload")
	return cmd
}

// runTransfers drives the shared manager in-process: one task per source,
// bars fed from the event bus, Ctrl-C cancelling everything in flight.
func runTransfers(ctx context.Context, taskType transfer.Type, backend transfer.Backend, sources []string, dest string, log *logging.Logger) error {
	bus := events.NewBus(0)
	defer bus.Close()
	mgr := transfer.NewManager(bus, log.Child("manager"))
	eventCh := bus.SubscribeAll()

	taskSrc := make(map[string]string, len(sources))
	var taskIDs []string
	for _, src := range sources {
		snap := mgr.Create("cli", taskType, src, dest)
		taskIDs = append(taskIDs, snap.ID)
		taskSrc[snap.ID] = src
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var single *progress.Single
	var multi *progress.TaskUI
	if len(taskIDs) > 1 {
		multi = progress.NewTaskUI()
	}

	// Start every task; beyond the concurrency cap, wait for slots.
	for _, id := range taskIDs {
		for {
			err := mgr.Start(ctx, id, backend)
			if errors.Is(err, transfer.ErrTooManyTransfers) {
				select {
				case <-time.After(constants.PausePollInterval):
					continue
				case sig := <-sigCh:
					_ = sig
					mgr.CancelAll()
					return fmt.Errorf("interrupted")
				}
			}
			if err != nil {
				// Validation failure: the task is failed, report and move on.
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", taskSrc[id], err)
			}
			break
		}
		snap, err := mgr.Get(id)
		if err != nil {
			continue
		}
		if multi != nil {
			multi.AddTask(id, taskSrc[id], snap.TotalSize)
		} else if single == nil && snap.Status == transfer.StatusRunning {
			single = progress.NewSingle(snap.TotalSize, taskSrc[id])
		}
	}

	// Terminal state per task; validation failures are already terminal
	// before the event loop begins.
	done := make(map[string]bool, len(taskIDs))
	failures := make(map[string]string)
	for _, id := range taskIDs {
		snap, err := mgr.Get(id)
		if err != nil {
			done[id] = true
			continue
		}
		if snap.Status.Terminal() {
			done[id] = true
			if snap.Status != transfer.StatusCompleted {
				failures[id] = snap.Error
			}
		}
	}

	for len(done) < len(taskIDs) {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("cancelling transfers")
			mgr.CancelAll()
		case ev, okCh := <-eventCh:
			if !okCh {
				return fmt.Errorf("event stream closed")
			}
			te, okType := ev.(*events.TaskEvent)
			if !okType {
				continue
			}
			switch ev.Type() {
			case events.EventTaskProgress:
				if multi != nil {
					multi.Update(te.TaskID, te.Transferred)
				} else if single != nil {
					single.Update(te.Transferred)
					if te.Path != "" {
						single.Describe(te.Path)
					}
				}
			case events.EventTaskCompleted:
				if done[te.TaskID] {
					continue
				}
				done[te.TaskID] = true
				if multi != nil {
					multi.Complete(te.TaskID, nil)
				} else if single != nil {
					single.Finish()
				}
			case events.EventTaskFailed:
				if done[te.TaskID] {
					continue
				}
				done[te.TaskID] = true
				failures[te.TaskID] = te.Error
				err := fmt.Errorf("%s", te.Error)
				if multi != nil {
					multi.Complete(te.TaskID, err)
				} else if single != nil {
					single.Fail(err)
				}
			case events.EventTaskCancelled:
				if done[te.TaskID] {
					continue
				}
				done[te.TaskID] = true
				failures[te.TaskID] = "cancelled"
				if multi != nil {
					multi.Complete(te.TaskID, fmt.Errorf("cancelled"))
				}
			}
		}
	}

	if multi != nil {
		multi.Wait()
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d transfers did not complete", len(failures), len(taskIDs))
	}
	return nil
}
