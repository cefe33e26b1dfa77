package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sigint-sh/sigint/internal/config"
	"github.com/sigint-sh/sigint/internal/discover"
	"github.com/sigint-sh/sigint/internal/models"
	"github.com/sigint-sh/sigint/internal/verify"
)

var verifyFlags struct {
	fingerprintPath string
	candidatesPath  string
	outputPath      string
	workers         int
	timeoutSeconds  int
	retryThreshold  float64
	noTCPCheck      bool
	noTLS           bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Probe discovered candidates and classify each host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify()
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyFlags.fingerprintPath, "fingerprint", "f", "", "fingerprint file (required)")
	verifyCmd.Flags().StringVarP(&verifyFlags.candidatesPath, "candidates", "c", "", "candidates file from discovery (required)")
	verifyCmd.Flags().StringVarP(&verifyFlags.outputPath, "output", "o", "verification.json", "verification report output file")
	verifyCmd.Flags().IntVar(&verifyFlags.workers, "workers", config.DefaultWorkers, "concurrent verification workers")
	verifyCmd.Flags().IntVar(&verifyFlags.timeoutSeconds, "timeout", 10, "per-request timeout in seconds")
	verifyCmd.Flags().Float64Var(&verifyFlags.retryThreshold, "retry-threshold", config.DefaultRetryThreshold, "retry alternate scheme and prefix below this score")
	verifyCmd.Flags().BoolVar(&verifyFlags.noTCPCheck, "no-tcp-check", false, "skip the TCP liveness check")
	verifyCmd.Flags().BoolVar(&verifyFlags.noTLS, "no-tls", false, "skip TLS certificate harvesting")
	verifyCmd.MarkFlagRequired("fingerprint") //nolint:errcheck
	verifyCmd.MarkFlagRequired("candidates")  //nolint:errcheck
}

func runVerify() error {
	cfg := config.Load()
	cfg.Verify.Workers = verifyFlags.workers
	cfg.Verify.Timeout = time.Duration(verifyFlags.timeoutSeconds) * time.Second
	cfg.Verify.RetryThreshold = verifyFlags.retryThreshold
	cfg.Verify.TCPCheck = !verifyFlags.noTCPCheck
	cfg.Verify.FetchTLS = !verifyFlags.noTLS

	fingerprint, err := models.LoadFingerprint(verifyFlags.fingerprintPath)
	if err != nil {
		return err
	}
	candidatesFile, err := discover.ReadCandidates(verifyFlags.candidatesPath)
	if err != nil {
		return err
	}
	if len(candidatesFile.Candidates) == 0 {
		return fmt.Errorf("candidates file %s holds no candidates", verifyFlags.candidatesPath)
	}

	engine := verify.New(cfg.Verify, cfg.Scoring)
	report := engine.Verify(cmdContext(), fingerprint, candidatesFile.Candidates)

	if err := verify.SaveReport(report, verifyFlags.outputPath); err != nil {
		return err
	}
	log.Info().
		Int("verified", report.Summary.Verified).
		Int("likely", report.Summary.Likely).
		Str("output", verifyFlags.outputPath).
		Msg("Verification finished")
	return nil
}

// cmdContext returns a context cancelled on SIGINT or SIGTERM.
func cmdContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
