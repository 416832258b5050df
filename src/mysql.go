//go:generate goversioninfo
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	sdk_args "github.com/newrelic/infra-integrations-sdk/v3/args"
	"github.com/newrelic/infra-integrations-sdk/v3/log"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/newrelic/nri-mysql-collector/src/api"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/aurora"
	"github.com/newrelic/nri-mysql-collector/src/dbutils"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	"github.com/newrelic/nri-mysql-collector/src/scheduler"
	"github.com/newrelic/nri-mysql-collector/src/secrets"
	slowquerymonitoring "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
	"github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/poller"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	statusmetrics "github.com/newrelic/nri-mysql-collector/src/status-metrics"
	"github.com/newrelic/nri-mysql-collector/src/store"
)

var ErrUnknownRegistrySource = errors.New("unknown registry source")

var (
	args      arguments.ArgumentList
	gitCommit = ""
	buildDate = ""
)

func main() {
	utils.FatalIfErr(sdk_args.SetupArgs(&args))

	if args.ShowVersion {
		fmt.Println(versionBanner())
		os.Exit(0)
	}

	log.SetupLogging(args.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, args)
	utils.FatalIfErr(err)
	utils.FatalIfErr(st.EnsureSchema(ctx))

	codec, err := secrets.NewCodec(args.AesKey, args.AesIv)
	utils.FatalIfErr(err)

	reg, closeRegistry, err := openRegistry(ctx, args, st)
	utils.FatalIfErr(err)

	pools := dbutils.NewPoolManager(args, codec, nil)
	processList, err := poller.NewProcessListPoller()
	utils.FatalIfErr(err)

	var waits []<-chan struct{}

	monitor := slowquerymonitoring.NewMonitor(args, reg, pools, processList, st)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()
	waits = append(waits, monitorDone)

	if args.EnableCommandStatus {
		group, err := scheduler.NewGroup(args.CommandStatusSchedule)
		utils.FatalIfErr(err)
		collector := statusmetrics.NewCollector(args, reg, pools, st)
		waits = append(waits, group.Schedule(ctx, collector.Run, "command status"))
	}

	if args.EnableAuroraMetrics {
		group, err := scheduler.NewGroup(args.AuroraMetricsSchedule)
		utils.FatalIfErr(err)
		clients := aurora.NewSessionClients(args)
		clusterInfo := aurora.NewClusterInfoCollector(args, reg, clients, st)
		cloudWatch := aurora.NewMetricsCollector(args, reg, clients, st)
		waits = append(waits,
			group.Schedule(ctx, clusterInfo.Run, "aurora cluster info"),
			group.Schedule(ctx, cloudWatch.Run, "aurora metrics"))
	}

	if args.APIListenAddress != "" {
		apiDone := make(chan struct{})
		server := api.NewServer(api.Backends{
			SlowQueries: st,
			Status:      st,
			Aurora:      st,
			Registry:    reg,
			Secrets:     codec,
			Pools:       pools,
		}, newAPILogger(args.Verbose))
		go func() {
			defer close(apiDone)
			if err := server.ListenAndServe(ctx, args.APIListenAddress); err != nil {
				log.Error("API stopped: %v", err)
			}
		}()
		waits = append(waits, apiDone)
	}

	log.Info("%s %s started", constants.CollectorName, constants.CollectorVersion)
	<-ctx.Done()
	log.Info("Shutting down")

	for _, done := range waits {
		<-done
	}
	pools.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), constants.StoreTimeoutDuration)
	defer cancel()
	if closeRegistry != nil {
		if err := closeRegistry(closeCtx); err != nil {
			log.Warn("Error closing the registry store: %v", err)
		}
	}
	if err := st.Close(closeCtx); err != nil {
		log.Warn("Error closing the persistence store: %v", err)
	}
}

func versionBanner() string {
	return fmt.Sprintf(
		"New Relic %s Version: %s, Platform: %s, GoVersion: %s, GitCommit: %s, BuildDate: %s",
		cases.Title(language.Und).String(strings.Replace(constants.CollectorName, "com.newrelic.", "", 1)),
		constants.CollectorVersion,
		fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		runtime.Version(),
		gitCommit,
		buildDate)
}

// openRegistry returns the registry selected by the arguments. The close function is non-nil
// only when a dedicated MongoDB client had to be opened for it.
func openRegistry(ctx context.Context, args arguments.ArgumentList, st store.Store) (registry.Editor, func(context.Context) error, error) {
	switch args.RegistrySource {
	case "", "file":
		return registry.NewFileRegistry(args.RegistryFile), nil, nil
	case "mongodb":
		if mongoStore, ok := st.(*store.MongoStore); ok {
			return registry.NewMongoRegistry(mongoStore.Collection(args.MongodbInstanceCollection)), nil, nil
		}
		if args.MongodbURI == "" {
			return nil, nil, fmt.Errorf("%w: mongodb_uri", store.ErrMissingAddress)
		}
		mongoStore, err := store.OpenMongoStore(ctx, args.MongodbURI, args.MongodbDBName, store.CollectionsFromArgs(args))
		if err != nil {
			return nil, nil, err
		}
		return registry.NewMongoRegistry(mongoStore.Collection(args.MongodbInstanceCollection)), mongoStore.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownRegistrySource, args.RegistrySource)
	}
}

func newAPILogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
