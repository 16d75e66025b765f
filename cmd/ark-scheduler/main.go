// README: Entry point; loads config, wires every module's store+service, and
// runs the hold-expiry sweep and nightly Monte Carlo job as background
// tickers. No HTTP surface: scheduling and routing are consumed as a library
// by an external booking frontend.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ark/internal/clock"
	"ark/internal/config"
	"ark/internal/infra"
	"ark/internal/modules/availability"
	"ark/internal/modules/capacity"
	"ark/internal/modules/driverbase"
	"ark/internal/modules/feasibility"
	"ark/internal/modules/holds"
	"ark/internal/modules/montecarlo"
	"ark/internal/modules/riderbehavior"
	"ark/internal/modules/routing"
	"ark/internal/modules/schedulestate"
	"ark/internal/modules/slotcatalog"
	"ark/internal/modules/travel"
	"ark/internal/types"
)

// Services bundles every wired engine this process hosts. An external
// booking frontend (outside this repo's scope) dials into these directly
// as a library rather than through a network API defined here.
type Services struct {
	Capacity     *capacity.Service
	Routing      *routing.Engine
	Holds        *holds.Manager
	Availability *availability.Service
	Simulator    *montecarlo.Simulator
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("load timezone %q: %v", cfg.Timezone, err)
	}
	realClock := clock.NewRealClock(loc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("db init: %v", err)
	}
	redisClient := infra.NewRedis(cfg.Redis.Addr)

	var routingProvider routing.RoutingProvider = routing.NewHaversineProvider(cfg.Routing.FallbackSpeedKmh)
	if cfg.MapsAPIKey != "" {
		gmaps, err := routing.NewGoogleMapsProvider(cfg.MapsAPIKey)
		if err != nil {
			log.Fatalf("maps provider init: %v", err)
		}
		routingProvider = routing.NewFallbackProvider(gmaps, routingProvider, cfg.Routing.ProviderTimeout)
	}

	travelCfg := travel.DefaultConfig()
	travelCfg.SafetyMultiplier = cfg.Travel.SafetyMultiplier
	travelCfg.RoadFactor = cfg.Travel.RoadFactor
	travelCfg.BaseSpeedKmh = cfg.Travel.BaseSpeedKmh
	travelModel := travel.NewModel(travelCfg)

	slotStore := slotcatalog.NewStore(dbPool, redisClient)
	slotSvc := slotcatalog.NewService(slotStore, cfg.Schedule)

	baseStore := driverbase.NewStore(dbPool, redisClient)
	baseSvc := driverbase.NewService(baseStore)

	behaviorStore := riderbehavior.NewStore(dbPool)
	behaviorModel := riderbehavior.NewModel(behaviorStore)

	stateStore := schedulestate.NewStore(dbPool)
	stateSvc := schedulestate.NewService(stateStore, cfg.Schedule)

	feasibilityEngine := feasibility.NewEngine(slotSvc, stateSvc, baseSvc, behaviorModel, travelModel)

	subscriberStore := capacity.NewSubscriberStore(dbPool)
	capacitySvc := capacity.NewService(slotSvc, subscriberStore, cfg.Capacity)

	zoneStore := routing.NewZoneStore(dbPool)
	planStore := routing.NewStore(dbPool)
	routingEngine := routing.NewEngine(zoneStore, planStore, planStore, routingProvider, cfg.Routing)

	holdStore := holds.NewStore(dbPool)
	holdManager := holds.NewManager(holdStore, slotSvc, feasibilityEngine, travelModel, realClock, cfg.Schedule)

	availabilitySvc := availability.NewService(slotSvc, feasibilityEngine, stateSvc, travelModel, cfg.Availability)

	simStore := montecarlo.NewStore(dbPool)
	simulator := montecarlo.NewSimulator(stateSvc, baseSvc, behaviorModel, travelModel, cfg.MonteCarlo)

	services := Services{
		Capacity:     capacitySvc,
		Routing:      routingEngine,
		Holds:        holdManager,
		Availability: availabilitySvc,
		Simulator:    simulator,
	}
	log.Printf("ark-scheduler ready: capacity=%p routing=%p holds=%p availability=%p simulator=%p",
		services.Capacity, services.Routing, services.Holds, services.Availability, services.Simulator)

	go runHoldExpirySweep(ctx, holdManager, realClock)
	go runNightlySimulation(ctx, simulator, simStore, realClock, loc)

	<-ctx.Done()
	log.Println("shutting down")
}

// runHoldExpirySweep releases capacity for holds the rider never confirmed
// before HoldExpiryMinutes elapsed.
func runHoldExpirySweep(ctx context.Context, mgr *holds.Manager, clk clock.Clock) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := mgr.ExpireHolds(ctx)
			if err != nil {
				log.Printf("expire holds: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expired %d holds", n)
			}
		}
	}
}

// runNightlySimulation replays the next service date's scheduled rides
// through the Monte Carlo simulator once a day and persists the job.
func runNightlySimulation(ctx context.Context, sim *montecarlo.Simulator, store *montecarlo.Store, clk clock.Clock, loc *time.Location) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	lastRunDate := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := clk.Now()
			if now.Hour() != 2 {
				continue
			}
			serviceDate := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
			key := serviceDate.Format("2006-01-02")
			if key == lastRunDate {
				continue
			}
			lastRunDate = key

			for _, scenario := range []montecarlo.Scenario{
				{Direction: slotcatalog.DirectionHomeToCampus, Variance: travel.VarianceNormal},
				{Direction: slotcatalog.DirectionCampusToHome, Variance: travel.VarianceNormal},
			} {
				job := &montecarlo.Job{
					JobID:       types.JobID(uuid.NewString()),
					ServiceDate: serviceDate,
					Scenario:    scenario,
					Status:      montecarlo.JobPending,
				}
				if err := store.CreateJob(ctx, job); err != nil {
					log.Printf("create simulation job: %v", err)
					continue
				}
				if _, err := montecarlo.RunAndSaveSimulation(ctx, sim, store, clk, job.JobID, serviceDate, scenario, 0); err != nil {
					log.Printf("simulation job %s failed: %v", job.JobID, err)
				}
			}
		}
	}
}
