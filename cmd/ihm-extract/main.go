package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
	"github.com/joseph-ayodele/ihm-parser/internal/export"
	"github.com/joseph-ayodele/ihm-parser/internal/logging"
	"github.com/joseph-ayodele/ihm-parser/internal/pipeline"
	repo "github.com/joseph-ayodele/ihm-parser/internal/repository"
)

const outputsDir = "outputs/JSON Extractions"

// ihm-extract runs the whole pipeline over a local PDF and writes the classified rows as
// JSON, optionally also as a workbook.
func main() {
	configPath := flag.String("config", "", "optional YAML config file (defaults to $IHM_CONFIG)")
	pdfPath := flag.String("pdf", "", "path to the IHM PDF (required)")
	model := flag.String("model", "", "OpenAI model (defaults to OPENAI_MODEL or gpt-5)")
	outPath := flag.String("out", "", "output JSON path (defaults to outputs/JSON Extractions/<stem>_extract_<date>.json)")
	xlsxPath := flag.String("xlsx", "", "also write an xlsx workbook to this path")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if *pdfPath == "" {
		logger.Error("usage: ihm-extract -pdf <file> [-model gpt-5] [-out result.json] [-xlsx result.xlsx]")
		os.Exit(2)
	}
	if err := cfg.ValidateLLM(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	if *model == "" {
		*model = cfg.LLM.DefaultModel
	}

	pdf, err := os.ReadFile(*pdfPath)
	if err != nil {
		logger.Error("PDF not found", "path", *pdfPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	if cfg.RefCodes.Source == "db" {
		db, err := repo.Open(ctx, repo.Config(cfg.Database), logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		opts = append(opts, pipeline.WithDB(db))
	}

	proc, err := pipeline.NewProcessor(cfg, logger, opts...)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	filename := filepath.Base(*pdfPath)
	res, err := proc.Jobs(nil).Run(ctx, filename, *model, pdf)
	if err != nil {
		logger.Error("pipeline failed", "pdf", *pdfPath, "error", err)
		os.Exit(1)
	}

	out := *outPath
	if out == "" {
		stem := strings.TrimSuffix(filename, filepath.Ext(filename))
		out = filepath.Join(outputsDir, fmt.Sprintf("%s_extract_%s.json", stem, time.Now().Format("2006-01-02")))
	}
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		logger.Error("encode result", "error", err)
		os.Exit(1)
	}
	if err := writeFile(out, body); err != nil {
		logger.Error("write result", "path", out, "error", err)
		os.Exit(1)
	}

	if *xlsxPath != "" {
		b, err := export.NewService(logger).XLSX(export.Workbook{
			Filename: res.Filename,
			Model:    res.ModelUsed,
			Meta:     res.DocumentMeta,
			Rows:     res.Rows,
		})
		if err != nil {
			logger.Error("build workbook", "error", err)
			os.Exit(1)
		}
		if err := writeFile(*xlsxPath, b); err != nil {
			logger.Error("write workbook", "path", *xlsxPath, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("pipeline complete",
		"rows", res.TotalItems,
		"pages", res.DocumentMeta.PagesTotal,
		"json", out,
		"xlsx", *xlsxPath,
		"took", time.Since(start).Round(time.Millisecond),
	)
}

func writeFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
