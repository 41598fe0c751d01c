package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/mapqc/qc"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *qc.Config
	Reference  *qc.CompiledReference
	Tracker    *qc.ReportTracker
	MQTTClient *qc.MQTTClient
	Publisher  *qc.Publisher
	Store      *qc.Store

	// CLI flags (effectively dependencies)
	ConfigFile      string
	ReferenceFile   string
	ObservationFile string
	OutputFile      string
	DataDir         string
	KMAD            float64
	GroupBy         bool
	GroupKey        string
	StorePath       string
	VectorFormat    string
	HttpPort        int
	MqttMode        bool
	HttpMode        bool
}

// AppOptions carries parsed CLI flags into the App
type AppOptions struct {
	ConfigFile      string
	ReferenceFile   string
	ObservationFile string
	OutputFile      string
	DataDir         string
	KMAD            float64
	GroupBy         bool
	GroupKey        string
	StorePath       string
	VectorFormat    string
	HttpPort        int
	MqttMode        bool
	HttpMode        bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Tracker: qc.NewReportTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ReferenceFile = opts.ReferenceFile
	a.ObservationFile = opts.ObservationFile
	a.OutputFile = opts.OutputFile
	a.DataDir = opts.DataDir
	a.KMAD = opts.KMAD
	a.GroupBy = opts.GroupBy
	a.GroupKey = opts.GroupKey
	a.StorePath = opts.StorePath
	a.VectorFormat = opts.VectorFormat
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// params assembles scoring parameters; CLI flags win over config values.
func (a *App) params() qc.Params {
	p := qc.DefaultParams()
	if a.Config != nil {
		p = a.Config.Params
	}
	if a.KMAD > 0 {
		p.KMAD = a.KMAD
	}
	if a.GroupBy {
		p.GroupByEnabled = true
		p.GroupKey = a.GroupKey
	}
	return p
}

// loadReference resolves and compiles the reference model from the
// -reference flag or the config. Accepts a local path or an HTTP URL.
func (a *App) loadReference() (*qc.CompiledReference, error) {
	path := a.ReferenceFile
	if path == "" && a.Config != nil {
		path = a.Config.Reference
	}
	if path == "" {
		return nil, fmt.Errorf("no reference model configured (use -reference or config)")
	}

	var model *qc.ReferenceModel
	var err error
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		model, err = qc.FetchReference(context.Background(), path)
	} else {
		model, err = qc.ParseReferenceFile(path)
	}
	if err != nil {
		return nil, err
	}

	ref, err := qc.CompileReference(model)
	if err != nil {
		return nil, err
	}
	log.Printf("[QC] compiled reference %q: %d clusters, dim %d", ref.Name, ref.K(), ref.Dim)
	return ref, nil
}

// scoreBatchFile scores a single observation file against the reference
func (a *App) scoreBatchFile() (*qc.Report, *qc.ObservationSet, error) {
	if a.ObservationFile == "" {
		return nil, nil, fmt.Errorf("no observation file given (use -observations)")
	}

	ref, err := a.loadReference()
	if err != nil {
		return nil, nil, err
	}
	a.Reference = ref

	batch, err := qc.ParseObservationsFile(a.ObservationFile)
	if err != nil {
		return nil, nil, err
	}
	if batch.Dataset == "" {
		base := filepath.Base(a.ObservationFile)
		batch.Dataset = strings.TrimSuffix(base, filepath.Ext(base))
	}

	s := qc.Summarize(batch)
	log.Printf("[QC] %s: parsed %d cells (dim %d, %d clusters, attributes %v)",
		s.Dataset, s.Cells, s.Dim, s.K, s.Attributes)

	report, err := qc.Score(ref, batch, a.params())
	if err != nil {
		return nil, nil, err
	}
	return report, batch, nil
}

// RunScoreOnly scores one observation file and writes the report JSON
func (a *App) RunScoreOnly() {
	report, _, err := a.scoreBatchFile()
	if err != nil {
		log.Fatalf("Scoring failed: %v", err)
	}

	a.printSummary(report)

	if a.StorePath != "" {
		store, err := qc.OpenStore(a.StorePath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer store.Close()
		runID, err := store.SaveReport(context.Background(), report)
		if err != nil {
			log.Fatalf("Failed to persist report: %v", err)
		}
		fmt.Printf("Saved run %d to %s\n", runID, a.StorePath)
	}

	out := a.OutputFile
	if out == "" {
		out = "qc-report.json"
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal report: %v", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
	fmt.Printf("Wrote report to %s\n", out)
}

// RunRender scores one observation file and writes the score histogram,
// plus the embedding scatter when a vector format is requested
func (a *App) RunRender() {
	report, batch, err := a.scoreBatchFile()
	if err != nil {
		log.Fatalf("Scoring failed: %v", err)
	}
	a.printSummary(report)

	out := a.OutputFile
	if out == "" {
		out = "qc-scores.png"
	}
	hist := qc.NewHistogramRenderer(report)
	if err := hist.SavePNG(out); err != nil {
		log.Fatalf("Failed to write histogram: %v", err)
	}
	fmt.Printf("Wrote histogram to %s\n", out)

	if a.VectorFormat != "" {
		scatter := qc.NewScatterRenderer(report, batch, a.Reference)
		scatterPath := strings.TrimSuffix(out, filepath.Ext(out)) + "-scatter." + a.VectorFormat

		f, err := os.Create(scatterPath)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", scatterPath, err)
		}
		defer f.Close()

		switch a.VectorFormat {
		case "svg":
			err = scatter.RenderToSVG(f)
		case "png":
			err = scatter.RenderToPNG(f)
		default:
			log.Fatalf("Unknown vector format %q (want svg or png)", a.VectorFormat)
		}
		if err != nil {
			log.Fatalf("Failed to render scatter: %v", err)
		}
		fmt.Printf("Wrote scatter to %s\n", scatterPath)
	}
}

// RunFootprint scores one observation file and writes per-cluster
// embedding footprints as GeoJSON
func (a *App) RunFootprint() {
	report, batch, err := a.scoreBatchFile()
	if err != nil {
		log.Fatalf("Scoring failed: %v", err)
	}
	a.printSummary(report)

	footprints, err := qc.ComputeFootprints(a.Reference, report, batch)
	if err != nil {
		log.Fatalf("Failed to compute footprints: %v", err)
	}
	data, err := qc.FootprintsGeoJSON(footprints)
	if err != nil {
		log.Fatalf("Failed to encode footprints: %v", err)
	}

	out := a.OutputFile
	if out == "" {
		out = "qc-footprints.json"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		log.Fatalf("Failed to write footprints: %v", err)
	}
	fmt.Printf("Wrote %d cluster footprints to %s\n", len(footprints), out)
}

// RunService starts the long-running service: MQTT batch ingest and/or
// the HTTP API, with optional SQLite persistence
func (a *App) RunService() {
	fmt.Println("Starting mapqc service...")

	// Resolve config path relative to data-dir if provided
	resolvedConfig := a.ConfigFile
	if a.DataDir != "." && resolvedConfig == "config.yaml" {
		resolvedConfig = filepath.Join(a.DataDir, "config.yaml")
	}

	config, err := qc.LoadConfig(resolvedConfig)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, resolvedConfig)
	}
	a.Config = config
	log.Printf("Loaded config from %s", resolvedConfig)

	ref, err := a.loadReference()
	if err != nil {
		log.Fatalf("Failed to load reference model: %v", err)
	}
	a.Reference = ref

	a.Tracker = qc.NewReportTrackerWithCache(filepath.Join(a.DataDir, ".qc-reports.json"))
	for _, ds := range config.Datasets {
		if ds.Color != "" {
			a.Tracker.SetColor(ds.ID, ds.Color)
		}
	}

	storePath := a.StorePath
	if storePath == "" {
		storePath = config.StorePath
	}
	if storePath != "" {
		store, err := qc.OpenStore(storePath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		a.Store = store
		defer store.Close()
	}

	// Pull initial batches from datasets exposing an API URL, so the HTTP
	// endpoints have data before the first MQTT message arrives.
	for _, ds := range config.Datasets {
		if ds.ApiURL == nil || *ds.ApiURL == "" {
			continue
		}
		batch, err := qc.FetchObservations(context.Background(), *ds.ApiURL)
		if err != nil {
			log.Printf("[QC] %s: initial fetch failed: %v", ds.ID, err)
			continue
		}
		if batch.Dataset == "" {
			batch.Dataset = ds.ID
		}
		a.handleBatch(ds.ID, batch)
	}

	if a.MqttMode {
		handler := func(datasetID string, rawPayload []byte, batch *qc.ObservationSet, err error) {
			if err != nil {
				log.Printf("[QC] %s: dropping undecodable batch: %v", datasetID, err)
				return
			}
			a.handleBatch(datasetID, batch)
		}

		client, err := qc.InitMQTT(config, handler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = client
		if client != nil {
			a.Publisher = qc.NewPublisher(client.Client(), config.MQTT.PublishPrefix)
		}
	}

	if a.HttpMode {
		server := newHTTPServer(a.Tracker, a.Reference, a.Store, config)
		addr := fmt.Sprintf(":%d", a.HttpPort)
		go func() {
			log.Printf("[HTTP] listening on %s", addr)
			if err := http.ListenAndServe(addr, server); err != nil {
				log.Fatalf("HTTP server failed: %v", err)
			}
		}()
	}

	// Block until interrupted
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("Shutting down...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
}

// handleBatch scores one incoming batch and fans the report out to the
// tracker, the store, and MQTT
func (a *App) handleBatch(datasetID string, batch *qc.ObservationSet) {
	report, err := qc.Score(a.Reference, batch, a.params())
	if err != nil {
		log.Printf("[QC] %s: scoring failed: %v", datasetID, err)
		return
	}

	a.Tracker.UpdateReport(datasetID, report, batch)

	if a.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := a.Store.SaveReport(ctx, report); err != nil {
			log.Printf("[STORE] %s: failed to persist report: %v", datasetID, err)
		}
		cancel()
	}

	if a.Publisher != nil {
		if err := a.Publisher.PublishReport(report); err != nil {
			log.Printf("[MQTT] %s: failed to publish summary: %v", datasetID, err)
		}
	}
}

// printSummary prints per-group threshold stats to stdout
func (a *App) printSummary(report *qc.Report) {
	fmt.Printf("=== %s ===\n", report.Dataset)
	fmt.Printf("Cells: %d, Fail: %d (kMAD=%.2f", len(report.Cells), report.FailCount(), report.Params.KMAD)
	if report.Params.GroupByEnabled {
		fmt.Printf(", grouped by %q", report.Params.GroupKey)
	}
	fmt.Println(")")
	for _, g := range report.Groups {
		fmt.Printf("  %-12s n=%-5d median=%.4f mad=%.4f threshold=%.4f fail=%d\n",
			g.Group, g.N, g.Median, g.MAD, g.Threshold, g.FailCount)
	}
}
