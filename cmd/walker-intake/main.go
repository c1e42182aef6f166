// Command walker-intake consumes the chat platform's live event stream and
// turns app mentions into queued tasks, thread replies into absorbed
// feedback, and cancel-button clicks into cancellation flags (spec §6,
// §4.12: "the intake process consumes Events(); the worker process only
// ever calls Post").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/cancel"
	"github.com/BryanOwens012/dogwalker/internal/chatadapter"
	"github.com/BryanOwens012/dogwalker/internal/config"
	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/jobruntime"
	"github.com/BryanOwens012/dogwalker/internal/logging"
	"github.com/BryanOwens012/dogwalker/internal/selector"
	"github.com/BryanOwens012/dogwalker/internal/store"
	"github.com/BryanOwens012/dogwalker/internal/task"
)

func main() {
	root := &cobra.Command{
		Use:           "walker-intake",
		Short:         "Consumes chat events and enqueues Walker tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "walker-intake:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log, err := logging.New(cfg.DebugLogging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	kv, err := store.NewSQLiteKV(cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("opening coordination store: %w", err)
	}
	defer kv.Close()
	coord := store.NewCoordination(kv, log)
	cancelMgr := cancel.New(coord)

	roster, err := dog.NewRoster(cfg.Dogs)
	if err != nil {
		return fmt.Errorf("invalid dog roster: %w", err)
	}
	sel := selector.New(roster, coord, log)

	queue, err := jobruntime.NewSQLiteQueue(cfg.QueueURL)
	if err != nil {
		return fmt.Errorf("opening job queue: %w", err)
	}
	defer queue.Close()

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
	chatAdapter, err := chatadapter.DialWebsocketAdapter(dialCtx, cfg.ChatSocketURL, log)
	cancelDial()
	if err != nil {
		return fmt.Errorf("connecting to chat platform: %w", err)
	}
	defer chatAdapter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := &intake{
		coord:       coord,
		cancelMgr:   cancelMgr,
		sel:         sel,
		queue:       queue,
		chatAdapter: chatAdapter,
		log:         log,
	}

	log.Info("walker-intake listening for chat events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-chatAdapter.Events():
			if !ok {
				return fmt.Errorf("chat adapter event stream closed")
			}
			in.handle(ctx, ev)
		}
	}
}

type intake struct {
	coord       *store.Coordination
	cancelMgr   *cancel.Manager
	sel         *selector.Selector
	queue       jobruntime.Queue
	chatAdapter chatadapter.Adapter
	log         *zap.Logger
}

func (in *intake) handle(ctx context.Context, ev chatadapter.IncomingEvent) {
	switch ev.Kind {
	case chatadapter.EventAppMention:
		in.handleAppMention(ctx, ev)
	case chatadapter.EventMessage:
		in.handleMessage(ctx, ev)
	case chatadapter.EventBlockAction:
		in.handleBlockAction(ctx, ev)
	default:
		in.log.Warn("ignoring unrecognized chat event kind", zap.String("kind", string(ev.Kind)))
	}
}

func (in *intake) handleAppMention(ctx context.Context, ev chatadapter.IncomingEvent) {
	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.ChannelID // a fresh mention is keyed by the channel ID alone
	}
	taskID := task.TaskID(ev.ChannelID, threadTS)

	d := in.sel.Select(ctx)
	payload := task.Payload{
		TaskID:      taskID,
		Description: ev.Text,
		DogRef:      d.Name,
		ThreadRef:   threadTS,
		ChannelRef:  ev.ChannelID,
		Requester:   task.Requester{Name: ev.UserName, URL: ev.UserID},
		StartTime:   time.Now().UnixMilli(),
	}

	if _, err := in.queue.Enqueue(ctx, payload, d); err != nil {
		in.log.Error("enqueuing task failed", zap.String("task_id", taskID), zap.Error(err))
		in.post(ctx, ev.ChannelID, threadTS, fmt.Sprintf("Sorry, I couldn't queue that task: %s", err))
		return
	}

	in.log.Info("enqueued task", zap.String("task_id", taskID), zap.String("dog", d.Name))
	in.post(ctx, ev.ChannelID, threadTS, fmt.Sprintf("On it! %s is on the case.", d.Name))
}

func (in *intake) handleMessage(ctx context.Context, ev chatadapter.IncomingEvent) {
	if ev.ThreadTS == "" {
		return // not a reply inside a tracked thread
	}
	taskID, ok, err := in.coord.TaskIDForThread(ctx, ev.ThreadTS)
	if err != nil {
		in.log.Warn("resolving thread binding failed", zap.String("thread_ts", ev.ThreadTS), zap.Error(err))
		return
	}
	if !ok {
		return // message in a thread Walker isn't tracking
	}

	if err := in.coord.AppendThreadMessage(ctx, ev.ThreadTS, store.ThreadMessage{
		UserID:   ev.UserID,
		UserName: ev.UserName,
		Text:     ev.Text,
		Ts:       time.Now(),
	}); err != nil {
		in.log.Warn("appending thread feedback failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (in *intake) handleBlockAction(ctx context.Context, ev chatadapter.IncomingEvent) {
	if ev.ActionID != "cancel_task" {
		return
	}
	taskID := ev.ActionVal
	if taskID == "" {
		return
	}
	if err := in.cancelMgr.Set(ctx, taskID, ev.UserName, ev.UserID); err != nil {
		in.log.Warn("recording cancellation failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	in.log.Info("cancellation requested", zap.String("task_id", taskID), zap.String("by", ev.UserName))
}

func (in *intake) post(ctx context.Context, channelID, threadTS, text string) {
	if _, err := in.chatAdapter.Post(ctx, chatadapter.OutgoingMessage{
		ChannelID: channelID,
		ThreadTS:  threadTS,
		Text:      text,
	}); err != nil {
		in.log.Warn("posting acknowledgement failed", zap.Error(err))
	}
}
