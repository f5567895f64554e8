package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agentrelay/pkg/config"
	"agentrelay/pkg/delivery"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/store"
)

func newDeliverCommand() *cobra.Command {
	var (
		reply   delivery.Reply
		url     string
		dbPath  string
		cfgPath string
		raw     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Post one agent reply to the relay's /submit endpoint",
		Long: "Post one agent reply to the relay's /submit endpoint.\n" +
			"The endpoint is --url, else CENTRAL_BUS_URL, else delivery.bus_url of the config.\n" +
			"Credentials come from AUTH_TOKEN, AUTH_METHOD and AUTH_HEADER.\n" +
			"With --db the server id is read from the channel record of a stopped relay's store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.ParseDeliveryEnv()
			if err != nil {
				return err
			}
			flags := config.Flags{Config: cfgPath, Set: map[string]bool{"config": cmd.Flags().Changed("config")}}
			cfg, err := deliveryConfig(flags)
			if err != nil {
				return err
			}
			target := busURL(url, env, cfg)
			if raw != "" {
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("--raw is not valid json")
				}
				reply.RawMessage = json.RawMessage(raw)
			}

			opts := delivery.Options{
				URL:        target,
				AuthToken:  env.AuthToken,
				AuthMethod: env.AuthMethod,
				AuthHeader: env.AuthHeader,
			}
			if dbPath != "" {
				st, err := store.OpenPebble(dbPath, nil)
				if err != nil {
					return fmt.Errorf("open store: %w", err)
				}
				defer st.Close()
				opts.Resolver = delivery.StoreResolver{Store: st}
			}

			client := delivery.NewClient(opts)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := client.Deliver(ctx, reply); err != nil {
				return err
			}
			logger.Info("reply_delivered", "channel_id", reply.ChannelID, "url", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "submit endpoint (default $CENTRAL_BUS_URL or delivery.bus_url)")
	cmd.Flags().StringVar(&cfgPath, "config", "./config.yaml", "path to the yaml config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "pebble store directory used to resolve the reply route")
	cmd.Flags().StringVar(&reply.ChannelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&reply.ServerID, "server", ids.DefaultServerID, "server id")
	cmd.Flags().StringVar(&reply.AuthorID, "author", "", "agent id")
	cmd.Flags().StringVar(&reply.Content, "content", "", "reply text")
	cmd.Flags().StringVar(&reply.InReplyToMessageID, "in-reply-to", "", "id of the message answered")
	cmd.Flags().StringVar(&raw, "raw", "", "raw message json")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("author")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

// deliveryConfig loads the same effective config serve would use.
func deliveryConfig(flags config.Flags) (*config.Config, error) {
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(eff); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return eff.Config, nil
}

func busURL(flagURL string, env config.DeliveryEnv, cfg *config.Config) string {
	switch {
	case flagURL != "":
		return flagURL
	case env.BusURL != "":
		return env.BusURL
	}
	return cfg.Delivery.BusURL
}
