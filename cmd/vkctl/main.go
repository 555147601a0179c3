package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	natsclient "github.com/devghori1264/aerophoenix/vkd/internal/nats"
)

type globalOptions struct {
	server  string
	natsURL string
	prefix  string
	verbose bool
	log     *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "vkctl",
		Short:         "Command line client for vkd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
			if opts.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}
			log, err := cfg.Build()
			if err != nil {
				return err
			}
			opts.log = log
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("VKCTL_SERVER", "http://localhost:8080"), "vkd HTTP address")
	root.PersistentFlags().StringVar(&opts.natsURL, "nats", envOr("VKCTL_NATS", nats.DefaultURL), "NATS server for watch")
	root.PersistentFlags().StringVar(&opts.prefix, "subject-prefix", natsclient.DefaultPrefix, "NATS subject prefix used by vkd")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newListCommand(opts),
		newCreateCommand(opts),
		newGetCommand(opts),
		newLifecycleCommand(opts, "start", "Start an instance", (*client).Start),
		newLifecycleCommand(opts, "stop", "Stop an instance", (*client).Stop),
		newLifecycleCommand(opts, "delete", "Delete an instance and its container", (*client).Delete),
		newWatchCommand(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := newClient(opts.server).List(cmd.Context())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(list))
			for id := range list {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS")
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, list[id].Name, list[id].Status)
			}
			return tw.Flush()
		},
	}
}

func newCreateCommand(opts *globalOptions) *cobra.Command {
	var name, file, b64, srcURL string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an inactive instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := models.VolkanicSource{Base64: b64, URL: srcURL}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				src.Base64 = base64.StdEncoding.EncodeToString(raw)
			}
			req := models.Request{Name: name, Type: models.InstanceType{Volkanic: &models.Volkanic{Source: src}}}
			if err := req.Validate(); err != nil {
				return err
			}
			id, err := newClient(opts.server).Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			opts.log.Debug("instance created", zap.String("instance", id))
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "instance name")
	cmd.Flags().StringVarP(&file, "file", "f", "", "construct file to upload inline")
	cmd.Flags().StringVar(&b64, "base64", "", "inline construct, already base64 encoded")
	cmd.Flags().StringVar(&srcURL, "url", "", "URL the host fetches the construct from")
	cmd.MarkFlagsMutuallyExclusive("file", "base64", "url")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newClient(opts.server).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
}

func newLifecycleCommand(opts *globalOptions, use, short string, op func(*client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := op(newClient(opts.server), cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s accepted for %s\n", use, args[0])
			return nil
		},
	}
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream instance events relayed to NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := nats.Connect(opts.natsURL, nats.Name("vkctl"))
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Drain()

			out := cmd.OutOrStdout()
			subject := natsclient.EventsSubject(opts.prefix)
			sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				var n events.Notification
				if err := json.Unmarshal(msg.Data, &n); err != nil {
					opts.log.Warn("undecodable event", zap.Error(err))
					return
				}
				fmt.Fprintln(out, formatNotification(n))
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			opts.log.Debug("watching", zap.String("subject", subject))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

func formatNotification(n events.Notification) string {
	if n.Kind == events.KindDeleted || n.Instance == nil {
		return fmt.Sprintf("%s\t%s", n.ID, n.Kind)
	}
	return fmt.Sprintf("%s\t%s\t%s", n.ID, n.Instance.Name, n.Instance.Status)
}
