package main

import (
	"flag"
	"fmt"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile      = flag.String("config", "config.yaml", "Path to configuration file")
	referenceFile   = flag.String("reference", "", "Reference model JSON (path or URL); overrides config")
	observationFile = flag.String("observations", "", "Observation batch JSON file for score/render/footprint modes")
	scoreOnly       = flag.Bool("score", false, "Score a batch file and write the report JSON, then exit")
	renderOnly      = flag.Bool("render", false, "Score a batch file and write the score histogram PNG, then exit")
	footprintOnly   = flag.Bool("footprint", false, "Score a batch file and write per-cluster footprint GeoJSON, then exit")
	outputFile      = flag.String("output", "", "Output file for score/render/footprint modes")
	dataDir         = flag.String("data-dir", ".", "Directory for config and report cache in service mode")
	kMAD            = flag.Float64("kmad", 0, "MAD multiplier for the outlier threshold (default 2.5, or config value)")
	groupBy         = flag.Bool("group-by", false, "Compute thresholds per group instead of globally")
	groupKey        = flag.String("group-key", "", "Observation attribute to group by (e.g. donor); required with -group-by")
	storePath       = flag.String("store", "", "SQLite file for run persistence; overrides config")
	vectorFormat    = flag.String("vector-format", "", "Also write the embedding scatter in this format: svg or png")
	mqttMode        = flag.Bool("mqtt", false, "Run MQTT service mode for streaming batch QC")
	httpMode        = flag.Bool("http", false, "Enable HTTP server for reports and renders")
	httpPort        = flag.Int("http-port", 8080, "HTTP server port (default 8080)")
)

func main() {
	flag.Parse()
	fmt.Printf("mapqc version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:      *configFile,
		ReferenceFile:   *referenceFile,
		ObservationFile: *observationFile,
		OutputFile:      *outputFile,
		DataDir:         *dataDir,
		KMAD:            *kMAD,
		GroupBy:         *groupBy,
		GroupKey:        *groupKey,
		StorePath:       *storePath,
		VectorFormat:    *vectorFormat,
		HttpPort:        *httpPort,
		MqttMode:        *mqttMode,
		HttpMode:        *httpMode,
	})

	if *scoreOnly {
		app.RunScoreOnly()
		return
	}

	if *renderOnly {
		app.RunRender()
		return
	}

	if *footprintOnly {
		app.RunFootprint()
		return
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return
	}

	fmt.Println("mapqc: nothing to do")
	fmt.Println("Use -score/-render/-footprint with -observations for batch mode,")
	fmt.Println("or -mqtt/-http for service mode")
	flag.Usage()
}
