package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xdrportal/xdrportal/internal/api"
	"github.com/xdrportal/xdrportal/internal/config"
	"github.com/xdrportal/xdrportal/internal/portal"
	"github.com/xdrportal/xdrportal/internal/snapshot"
	"github.com/xdrportal/xdrportal/internal/storage"
	"github.com/xdrportal/xdrportal/internal/storage/postgres"
)

func main() {
	var (
		alerts         bool
		incidents      bool
		machines       bool
		machineGroups  bool
		rules          bool
		settings       bool
		timeline       bool
		machineID      string
		machineActions bool
		lookback       int
		store          bool
		serve          bool
		bypassCache    bool
	)
	flag.BoolVar(&alerts, "alerts", false, "harvest the alert queue")
	flag.BoolVar(&incidents, "incidents", false, "harvest the incident queue")
	flag.BoolVar(&machines, "machines", false, "harvest the device inventory")
	flag.BoolVar(&machineGroups, "machinegroups", false, "harvest the RBAC machine groups")
	flag.BoolVar(&rules, "rules", false, "harvest the custom detection rules")
	flag.BoolVar(&settings, "settings", false, "harvest the advanced feature settings")
	flag.BoolVar(&timeline, "timeline", false, "harvest the timeline of one machine (requires -machineid)")
	flag.StringVar(&machineID, "machineid", "", "the machine ID to harvest the timeline for")
	flag.BoolVar(&machineActions, "machineactions", false, "harvest the machine actions via the supported API (requires client credentials)")
	flag.IntVar(&lookback, "lookback", 24, "the number of hours to look back")
	flag.BoolVar(&store, "store", false, "persist harvested payloads as snapshots (requires XDR_POSTGRES_DSN)")
	flag.BoolVar(&serve, "serve", false, "start the local snapshot API (requires XDR_POSTGRES_DSN)")
	flag.BoolVar(&bypassCache, "bypasscache", false, "force live calls even when fresh cached listings exist")
	flag.Parse()

	// Set up zerolog to use pretty printing
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out: os.Stderr,
	})
	log.Info().Msg("starting up...")

	// Load the application configuration
	log.Info().Msg("loading configuration...")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load the configuration")
	}
	if cfg.IsEnvProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx := context.Background()
	lookbackDuration := time.Duration(lookback) * time.Hour

	// Create the portal client and schedule the cache sweep
	client, err := portal.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create the portal client")
	}
	client.Cache().ScheduleSweep(30 * time.Second)
	defer client.Cache().StopSweep()

	// Establish the portal session from whichever cookie material is configured
	needsSession := alerts || incidents || machines || machineGroups || rules || settings || timeline
	if needsSession {
		switch {
		case cfg.SCCAuthCookie != "" && cfg.XSRFCookie != "":
			log.Info().Msg("establishing the portal session from the configured session cookies...")
			if _, err := client.Sessions().FromSessionCookies(ctx, cfg.SCCAuthCookie, cfg.XSRFCookie, cfg.TenantID); err != nil {
				log.Fatal().Err(err).Msg("could not establish the portal session")
			}
		case cfg.RefreshCookie != "":
			log.Info().Msg("exchanging the long-lived cookie for a portal session...")
			if _, err := client.Sessions().BootstrapFromCookie(ctx, cfg.RefreshCookie, cfg.TenantID); err != nil {
				log.Fatal().Err(err).Msg("could not establish the portal session")
			}
		default:
			log.Fatal().Msg("no cookie material configured; set XDR_REFRESH_COOKIE or XDR_SCCAUTH_COOKIE + XDR_XSRF_COOKIE")
		}
		log.Info().Str("tenant", client.Sessions().CurrentTenantID()).Msg("portal session established")
	}

	// Initialize the snapshot storage when persistence or the local API is requested
	var driver storage.Driver
	if store || serve {
		if cfg.PostgresDSN == "" {
			log.Fatal().Msg("-store and -serve require XDR_POSTGRES_DSN to be set")
		}
		log.Info().Msg("initializing database connection...")
		pg := postgres.New(cfg.PostgresDSN)
		if err := pg.Initialize(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not initialize the database connection")
		}
		driver = pg
		defer driver.Close()
	}

	if alerts {
		log.Info().Msg("harvesting the alert queue...")
		items, err := client.Alerts(ctx, portal.AlertsOptions{Lookback: lookbackDuration, BypassCache: bypassCache})
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the alert queue")
		}
		log.Info().Int("count", len(items)).Msg("harvested alerts")
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), "alerts", items)
	}

	if incidents {
		log.Info().Msg("harvesting the incident queue...")
		items, err := client.Incidents(ctx, portal.IncidentsOptions{Lookback: lookbackDuration, BypassCache: bypassCache})
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the incident queue")
		}
		log.Info().Int("count", len(items)).Msg("harvested incidents")
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), "incidents", items)
	}

	if machines {
		log.Info().Msg("harvesting the device inventory...")
		items, err := client.Machines(ctx, portal.MachinesOptions{BypassCache: bypassCache})
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the device inventory")
		}
		log.Info().Int("count", len(items)).Msg("harvested machines")
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), "machines", items)
	}

	if machineGroups {
		log.Info().Msg("harvesting the machine groups...")
		items, err := client.MachineGroups(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the machine groups")
		}
		log.Info().Int("count", len(items)).Msg("harvested machine groups")
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), "machine_groups", items)
	}

	if rules {
		log.Info().Msg("harvesting the custom detection rules...")
		items, err := client.Rules(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the custom detection rules")
		}
		log.Info().Int("count", len(items)).Msg("harvested custom detection rules")
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), "custom_detection_rules", items)
	}

	if settings {
		log.Info().Msg("harvesting the advanced feature settings...")
		features, err := client.AdvancedFeatures(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the advanced feature settings")
		}
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), "advanced_features", features)
	}

	if timeline {
		if machineID == "" {
			log.Fatal().Msg("-timeline requires -machineid")
		}
		log.Info().Str("machine", machineID).Msg("harvesting the machine timeline; depending on the lookback this can take a while...")
		events, err := client.Timeline(ctx, machineID, portal.TimelineOptions{From: time.Now().UTC().Add(-lookbackDuration)})
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the machine timeline")
		}
		log.Info().Int("count", len(events)).Msg("harvested timeline events")
		persist(ctx, driver, store, client.Sessions().CurrentTenantID(), fmt.Sprintf("timeline_%s", machineID), events)
	}

	if machineActions {
		log.Info().Msg("harvesting the machine actions via the supported API...")
		official, err := portal.NewOfficialClient(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create the supported API client")
		}
		actions, err := official.MachineActions(ctx, time.Now().UTC().Add(-lookbackDuration))
		if err != nil {
			log.Fatal().Err(err).Msg("could not harvest the machine actions")
		}
		log.Info().Int("count", len(actions)).Msg("harvested machine actions")
		persist(ctx, driver, store, cfg.TenantID, "machine_actions", actions)
	}

	if !serve {
		log.Info().Msg("done!")
		return
	}

	// Start up the local snapshot API
	log.Info().Str("address", cfg.APIListenAddress).Msg("starting up the snapshot API...")
	service := &api.Service{
		Config:  cfg,
		Storage: driver,
	}
	apiErrs := make(chan error, 1)
	go func() {
		apiErrs <- service.Startup()
	}()
	defer func() {
		log.Info().Msg("shutting down the snapshot API...")
		service.Shutdown()
	}()

	// Wait for the application to be terminated
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt)
	select {
	case err := <-apiErrs:
		log.Fatal().Err(err).Msg("the snapshot API raised an unexpected error")
	case <-shutdown:
	}
}

// persist stores one harvested payload as a snapshot if persistence is enabled
func persist(ctx context.Context, driver storage.Driver, enabled bool, tenantID, source string, payload any) {
	if !enabled || driver == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("source", source).Msg("could not encode the harvested payload")
		return
	}
	obj := snapshot.New(tenantID, source, data)
	if err := driver.Snapshots().Create(ctx, []*snapshot.Snapshot{obj}); err != nil {
		log.Error().Err(err).Str("source", source).Msg("could not persist the harvested payload")
		return
	}
	log.Info().Str("source", source).Str("snapshot", obj.ID.String()).Msg("persisted snapshot")
}
