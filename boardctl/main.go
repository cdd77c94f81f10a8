package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"board-sync/config"
	"board-sync/domain"
	"board-sync/feed"
	"board-sync/notify"
)

var Version = "dev"

func main() {
	_ = config.LoadDotEnv()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var server, token string
	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Move tasks and follow board notifications",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("BOARD_SYNC_URL", "http://localhost:8080"), "board-sync API base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("BOARD_SYNC_TOKEN"), "bearer token")

	api := func() *client { return newClient(server, token) }
	root.AddCommand(boardCmd(api))
	root.AddCommand(moveCmd(api))
	root.AddCommand(movementsCmd(api))
	root.AddCommand(watchCmd(api))
	root.AddCommand(historyCmd(api))
	root.AddCommand(tailCmd())
	root.AddCommand(tokenCmd())
	return root
}

func boardCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "board [workspace]",
		Short: "Show the columns of a workspace board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := api().board(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderBoard(v))
			return nil
		},
	}
}

func moveCmd(api func() *client) *cobra.Command {
	var fromFlag string
	cmd := &cobra.Command{
		Use:   "move [workspace] [task] [stage]",
		Short: "Move a task to another stage",
		Long: `Move a task to another stage. The source stage defaults to the
task's current column on the board.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := api()
			to, err := domain.ParseStage(args[2])
			if err != nil {
				return err
			}
			var from domain.Stage
			if fromFlag != "" {
				if from, err = domain.ParseStage(fromFlag); err != nil {
					return err
				}
			} else {
				v, err := c.board(ctx, args[0])
				if err != nil {
					return err
				}
				col, ok := columnFor(v, args[1])
				if !ok {
					return fmt.Errorf("task %s is not on the board", args[1])
				}
				from = col.Stage
			}

			err = c.move(ctx, args[0], args[1], from, to)
			var failed *moveFailedError
			if errors.As(err, &failed) {
				fmt.Fprintln(cmd.ErrOrStderr(), renderMoveFailure(failed))
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s → %s\n", args[1], from.Label(), to.Label())
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFlag, "from", "", "expected source stage")
	return cmd
}

func movementsCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "movements [workspace] [task]",
		Short: "List the recorded movements of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := api().movements(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderMovements(recs))
			return nil
		},
	}
}

func watchCmd(api func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show toasts for moves made by others as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			err := api().stream(ctx, func(ch notify.ToastChange) {
				fmt.Fprintln(out, renderToastChange(ch))
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func historyCmd(api func() *client) *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := api()
			n, err := c.notifications(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(n))
			if markRead && n.Unread > 0 {
				marked, err := c.markRead(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("marked %d as read", marked)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark every listed notification as read")
	return cmd
}

// tailCmd follows the raw change feed, bypassing the API.
func tailCmd() *cobra.Command {
	var redisConn string
	cmd := &cobra.Command{
		Use:   "tail [workspace...]",
		Short: "Print movements published on workspace channels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisConn == "" {
				return errors.New("missing redis connection string")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New()
			logger.SetOutput(cmd.ErrOrStderr())
			rc := redis.NewClient(config.ParseRedis(redisConn))
			defer rc.Close()

			out := cmd.OutOrStdout()
			mux := feed.NewMultiplexer(feed.NewRedisFeed(rc, logger), feed.SinkFunc(func(_ context.Context, d feed.Delivery) {
				fmt.Fprintf(out, "%s  %s\n", headingStyle.Render(d.Membership.WorkspaceID), renderMovements([]domain.MovementRecord{d.Record}))
			}), logger)
			defer mux.Close()

			memberships := make([]domain.WorkspaceMembership, len(args))
			for i, id := range args {
				memberships[i] = domain.WorkspaceMembership{WorkspaceID: id}
			}
			if err := mux.Sync(ctx, memberships); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&redisConn, "redis", os.Getenv("REDIS_CONNECTION_STRING"), "redis connection string")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
