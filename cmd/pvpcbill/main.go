// cmd/pvpcbill/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/esios"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/report"
	"github.com/azogue/pvpcbill/internal/service"
	"github.com/azogue/pvpcbill/internal/tariff"
)

type options struct {
	configPath  string
	consumption string
	power       float64
	tariff      string
	zone        string
	discount    bool
	store       string
	format      string
	out         string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "./configs", "Path to the configuration directory")
	flag.StringVar(&opts.consumption, "consumption", "", "Hourly consumption CSV exported by the distributor (required)")
	flag.Float64Var(&opts.power, "power", 0, "Contracted power in kW (default from config)")
	flag.StringVar(&opts.tariff, "tariff", "", "Tariff: GEN|NOC|VHC or 2.0A|2.0DHA|2.0DHS (default from config)")
	flag.StringVar(&opts.zone, "zone", "", "Tax zone: IVA|IGIC|IPSI (default from config)")
	flag.BoolVar(&opts.discount, "discount", false, "Apply the social discount (default from config)")
	flag.StringVar(&opts.store, "store", "", "Local PVPC price store CSV (default from config)")
	flag.StringVar(&opts.format, "format", "text", "Output format: text|json|xlsx|pdf")
	flag.StringVar(&opts.out, "out", "", "Output file, '-' for stdout (default <identifier>.<ext>; text goes to stdout)")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pvpcbill: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.consumption == "" {
		flag.Usage()
		return errors.New("-consumption is required")
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	contract, err := contractFromFlags(cfg.Billing.Defaults, opts)
	if err != nil {
		return err
	}
	tables, err := cfg.Billing.Tables()
	if err != nil {
		return err
	}

	storePath := cfg.Store.Path
	if opts.store != "" {
		storePath = opts.store
	}
	var store *esios.Store
	if storePath != "" {
		store = esios.NewStore(storePath)
	}
	client := esios.NewClient(esios.ClientConfig{
		BaseURL:           cfg.ESIOS.BaseURL,
		Timeout:           cfg.ESIOS.Timeout,
		RequestsPerSecond: cfg.ESIOS.RequestsPerSecond,
		Burst:             cfg.ESIOS.Burst,
		MaxRetries:        cfg.ESIOS.MaxRetries,
		RetryInterval:     cfg.ESIOS.RetryInterval,
		Concurrency:       cfg.ESIOS.Concurrency,
	}, logger)
	bills := service.NewBillService(esios.NewSource(client, store, logger, nil), tables, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bill, err := bills.FromCSV(ctx, opts.consumption, contract)
	if err != nil {
		return err
	}

	body, ext, err := render(bill, tables, opts.format)
	if err != nil {
		return err
	}
	return write(body, outputPath(opts, bill, ext), logger)
}

// contractFromFlags overrides the configured contract with the flags given on
// the command line.
func contractFromFlags(defaults config.ContractDefault, opts options) (model.Contract, error) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "power":
			defaults.ContractedPowerKW = opts.power
		case "tariff":
			defaults.Tariff = opts.tariff
		case "zone":
			defaults.TaxZone = opts.zone
		case "discount":
			defaults.SocialDiscount = opts.discount
		}
	})
	return defaults.Contract()
}

func render(bill model.Bill, tables *tariff.Tables, format string) ([]byte, string, error) {
	switch format {
	case "text":
		text, err := report.Text(bill, tables)
		return []byte(text), "txt", err
	case "json":
		body, err := json.MarshalIndent(bill, "", "  ")
		return append(body, '\n'), "json", err
	case "xlsx":
		body, err := report.XLSX(bill)
		return body, "xlsx", err
	case "pdf":
		body, err := report.PDF(bill)
		return body, "pdf", err
	}
	return nil, "", fmt.Errorf("unknown format %q", format)
}

func outputPath(opts options, bill model.Bill, ext string) string {
	switch {
	case opts.out != "":
		return opts.out
	case opts.format == "text":
		return "-"
	default:
		return bill.Identifier() + "." + ext
	}
}

func write(body []byte, path string, logger *zap.Logger) error {
	if path == "-" {
		_, err := os.Stdout.Write(body)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	logger.Info("bill written", zap.String("path", path), zap.Int("bytes", len(body)))
	return nil
}
