// cctvd runs the multi-camera cashier-point surveillance pipeline: one
// worker per configured camera, each ingesting RTSP, detecting cash
// hand-overs, violence and fire, and persisting event clips.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/capture"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/database"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/metrics"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/sink"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/supervisor"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] no .env file loaded: %v", err)
	}

	app, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[main] invalid configuration: %v", err)
	}

	db, err := database.New(app.DBPath)
	if err != nil {
		log.Fatalf("[main] failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("[main] migration failed: %v", err)
	}

	m := metrics.New()
	if app.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			log.Printf("[main] metrics exporter listening on %s", app.MetricsAddr)
			if err := http.ListenAndServe(app.MetricsAddr, mux); err != nil {
				log.Printf("[main] metrics exporter stopped: %v", err)
			}
		}()
	}

	var sinkOpts []sink.Option
	var announcer *sink.MQTTAnnouncer
	if app.MQTTEnabled {
		announcer, err = sink.NewMQTTAnnouncerFromEnv(app.MQTTBaseTopic)
		if err != nil {
			log.Printf("[main] MQTT announcer not available: %v", err)
			announcer = nil
		} else {
			defer announcer.Close()
			sinkOpts = append(sinkOpts, sink.WithAnnouncer(announcer))
		}
	}
	if app.MinioEnabled {
		archiver, err := sink.NewMinioArchiverFromEnv()
		if err != nil {
			log.Printf("[main] MinIO archiver not available: %v", err)
		} else {
			sinkOpts = append(sinkOpts, sink.WithArchiver(archiver))
		}
	}

	eventSink, err := sink.New(app.MediaRoot, float64(app.EffectiveFPS), app.TranscodeTimeout, db, sinkOpts...)
	if err != nil {
		log.Fatalf("[main] failed to build event sink: %v", err)
	}

	deps := worker.Deps{
		OpenSource: func(ctx context.Context, cameraID, url string) (capture.Source, error) {
			src, err := capture.Open(ctx, cameraID, url)
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		LoadPose: func(cam *config.CameraConfig) (vision.PoseEstimator, error) {
			return vision.NewPoseNet(app.PoseModelPath, cam.PoseConfidence)
		},
		LoadObjects: func(cam *config.CameraConfig) (vision.ObjectDetector, error) {
			return vision.NewObjectNet(app.FireModelPath, vision.FireClassNames, cam.FireConfidence)
		},
		Sink:    eventSink,
		Metrics: m,
		Heartbeat: func(rec *database.WorkerStateRecord) {
			if err := db.UpsertWorkerState(rec); err != nil {
				log.Printf("[main] heartbeat write failed: %v", err)
			}
		},
	}

	sup := supervisor.New(db, func(cam *config.CameraConfig) supervisor.Handle {
		return worker.New(app, cam, deps)
	})

	if err := sup.StartAll(); err != nil {
		log.Printf("[main] some cameras failed to start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("[main] signal received, shutting down")
		cancel()
	}()

	if announcer != nil {
		go publishStatuses(ctx, sup, announcer)
	}

	sup.Run(ctx)
}

// publishStatuses mirrors the worker status feed onto MQTT so dashboards
// see camera health without polling.
func publishStatuses(ctx context.Context, sup *supervisor.Supervisor, announcer *sink.MQTTAnnouncer) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, status := range sup.StatusAll() {
				if err := announcer.AnnounceStatus(status.CameraID, status); err != nil {
					log.Printf("[main] status publish failed for %s: %v", status.CameraID, err)
				}
			}
		}
	}
}
