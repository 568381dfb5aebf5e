package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/pipewatch/pkg/config"
	"github.com/cuemby/pipewatch/pkg/events"
	"github.com/cuemby/pipewatch/pkg/jenkins"
	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/metrics"
	"github.com/cuemby/pipewatch/pkg/notify"
	"github.com/cuemby/pipewatch/pkg/reconciler"
	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipewatch",
	Short: "Pipewatch - CI/CD pipeline observer for Jenkins",
	Long: `Pipewatch polls a Jenkins controller, keeps a durable record of every
pipeline and build it sees, and notifies when builds finish.

It serves rolling statistics, failure advice and a live event stream
over HTTP, and exports Prometheus metrics.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pipewatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("jenkins-url", "", "Jenkins controller URL (env JENKINS_URL)")
	flags.String("store", storage.DriverBolt, "Store driver: bolt or mongo")
	flags.String("data-dir", "./data", "Data directory for the bolt store")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.Bool("log-json", false, "Log as JSON instead of console output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(adviceCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig resolves the configuration for cmd and initializes logging.
// Commands that talk to Jenkins or the store pass validate.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.Open(ctx, storage.Options{
		Driver:        cfg.Store.Driver,
		DataDir:       cfg.Store.DataDir,
		MongoURI:      cfg.Store.MongoURI,
		MongoDatabase: cfg.Store.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	metrics.RegisterComponent(metrics.ComponentStore, true, "")
	return store, nil
}

func newJenkinsClient(cfg *config.Config) *jenkins.Client {
	return jenkins.NewClient(jenkins.Config{
		URL:      cfg.Jenkins.URL,
		Username: cfg.Jenkins.Username,
		APIToken: cfg.Jenkins.APIToken,
		Timeout:  cfg.Jenkins.Timeout,
	})
}

// channels builds the configured notification channels. The email channel is
// also returned on its own for on-demand advice emails; it is nil when SMTP
// credentials are missing.
func channels(cfg *config.Config) ([]notify.Channel, *notify.EmailChannel) {
	var out []notify.Channel
	var email *notify.EmailChannel

	emailCfg := notify.EmailConfig{
		Host:       cfg.Notify.Email.Host,
		Port:       cfg.Notify.Email.Port,
		Username:   cfg.Notify.Email.Username,
		Password:   cfg.Notify.Email.Password,
		From:       cfg.Notify.Email.From,
		Recipients: cfg.Notify.Email.Recipients,
	}
	if emailCfg.Configured() {
		email = notify.NewEmailChannel(emailCfg)
		out = append(out, email)
	}
	if cfg.Notify.Slack.WebhookURL != "" {
		out = append(out, notify.NewSlackChannel(cfg.Notify.Slack.WebhookURL))
	}
	return out, email
}

// pipeline is the wired collection path shared by serve and collect
type pipeline struct {
	store      storage.Store
	client     *jenkins.Client
	dispatcher *notify.Dispatcher
	broker     *events.Broker
	reconciler *reconciler.Reconciler
	email      *notify.EmailChannel
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chans, email := channels(cfg)
	dispatcher := notify.NewDispatcher(notify.Options{QueueSize: cfg.Notify.QueueSize}, chans...)
	dispatcher.Start()
	if len(chans) == 0 {
		log.Warn("No notification channels configured; build outcomes are only recorded")
	}

	broker := events.NewBroker()
	broker.Start()

	client := newJenkinsClient(cfg)
	recon := reconciler.NewReconciler(client, store, dispatcher, reconciler.Config{
		BuildLimit:      cfg.Jenkins.BuildLimit,
		WindowDays:      cfg.Metrics.WindowDays,
		NotifyRecovered: cfg.Notify.Recovery,
	}, reconciler.WithBroker(broker))

	return &pipeline{
		store:      store,
		client:     client,
		dispatcher: dispatcher,
		broker:     broker,
		reconciler: recon,
		email:      email,
	}, nil
}

// Close drains queued notifications before closing the store
func (p *pipeline) Close() error {
	p.dispatcher.Close()
	p.broker.Stop()
	return p.store.Close()
}
