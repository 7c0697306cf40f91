// realitycamctl is the operator inspection CLI for realitycamd. It talks
// directly to the same SQLite store the daemon uses, so it must be run
// against a stopped daemon or one whose store tolerates concurrent
// readers (spec.md §9, operator inspection).
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/capturemodel"
	"github.com/LucaDeLeo/realitycam/internal/challenge"
	"github.com/LucaDeLeo/realitycam/internal/config"
	"github.com/LucaDeLeo/realitycam/internal/evidence"
	"github.com/LucaDeLeo/realitycam/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	noColor     = flag.Bool("no-color", false, "disable colored output")
	showVersion = flag.Bool("version", false, "show version information")
)

type colors struct {
	Reset, Bold, Dim, Red, Green, Yellow, Cyan string
}

var c colors

func initColors() {
	if *noColor || os.Getenv("NO_COLOR") != "" || !isTerminal() {
		c = colors{}
		return
	}
	c = colors{
		Reset:  "\033[0m",
		Bold:   "\033[1m",
		Dim:    "\033[2m",
		Red:    "\033[31m",
		Green:  "\033[32m",
		Yellow: "\033[33m",
		Cyan:   "\033[36m",
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%sERROR%s %s\n", c.Bold, c.Red, c.Reset, msg)
}

func printSection(title string) {
	fmt.Printf("\n%s%s %s %s\n\n", c.Bold, c.Cyan, title, c.Reset)
}

func usage() {
	fmt.Fprintf(os.Stderr, `%sUSAGE%s
    realitycamctl [options] <command> [arguments]

%sCOMMANDS%s
    %schallenge%s                       Issue a device challenge, as a client would
    %sinspect%s <capture-id>            Print a capture's stored evidence package
    %srecompute-confidence%s <capture-id>  Recompute and apply a capture's confidence level
    %sversion%s                        Show version information

%sOPTIONS%s
    -config <path>   Path to config file (default: platform config directory)
    -no-color        Disable colored output

`,
		c.Bold, c.Reset,
		c.Bold, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Cyan, c.Reset,
		c.Bold, c.Reset,
	)
}

func printVersion() {
	fmt.Printf("%srealitycamctl%s %s%s%s\n", c.Bold, c.Reset, c.Cyan, Version, c.Reset)
	fmt.Printf("  %sBuild%s    %s\n", c.Dim, c.Reset, BuildTime)
	fmt.Printf("  %sCommit%s   %s\n", c.Dim, c.Reset, Commit)
	fmt.Printf("  %sPlatform%s %s/%s\n", c.Dim, c.Reset, runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  %sGo%s       %s\n", c.Dim, c.Reset, runtime.Version())
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, _, err := config.LoadOrCreate(path)
	if err != nil {
		printError(fmt.Sprintf("loading config: %v", err))
		os.Exit(1)
	}
	return cfg
}

func openStore() *store.Store {
	cfg := loadConfig()
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		printError(fmt.Sprintf("opening store at %s: %v", cfg.Database.Path, err))
		os.Exit(1)
	}
	return st
}

func main() {
	flag.Parse()
	initColors()

	if *showVersion {
		printVersion()
		return
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "challenge":
		cmdChallenge()
	case "inspect":
		if flag.NArg() < 2 {
			printError("Usage: realitycamctl inspect <capture-id>")
			os.Exit(1)
		}
		cmdInspect(flag.Arg(1))
	case "recompute-confidence":
		if flag.NArg() < 2 {
			printError("Usage: realitycamctl recompute-confidence <capture-id>")
			os.Exit(1)
		}
		cmdRecomputeConfidence(flag.Arg(1))
	case "help":
		usage()
	case "version":
		printVersion()
	default:
		printError(fmt.Sprintf("unknown command: %s", cmd))
		usage()
		os.Exit(1)
	}
}

// cmdChallenge issues a challenge from a fresh in-process challenge store,
// as a smoke test of challenge generation without going through HTTP. The
// challenge is not known to a running daemon.
func cmdChallenge() {
	cs := challenge.New()
	buf, _, rateLimited, err := cs.Generate("127.0.0.1")
	if err != nil {
		printError(fmt.Sprintf("generate challenge: %v", err))
		os.Exit(1)
	}
	if rateLimited {
		printError("challenge issuance rate limit exceeded")
		os.Exit(1)
	}
	printSection("CHALLENGE")
	fmt.Printf("  %sb64%s  %s\n", c.Dim, c.Reset, base64.StdEncoding.EncodeToString(buf[:]))
}

func cmdInspect(captureID string) {
	st := openStore()
	defer st.Close()

	capture, err := capturemodel.Get(st, captureID)
	if err != nil {
		printError(fmt.Sprintf("capture %s: %v", captureID, err))
		os.Exit(1)
	}

	printSection("CAPTURE " + capture.ID)
	fmt.Printf("  %sdevice%s       %s\n", c.Dim, c.Reset, capture.DeviceID)
	fmt.Printf("  %stype%s         %s (%s)\n", c.Dim, c.Reset, capture.CaptureType, capture.CaptureMode)
	fmt.Printf("  %sstatus%s       %s\n", c.Dim, c.Reset, capture.Status)
	fmt.Printf("  %sconfidence%s   %s\n", c.Dim, c.Reset, confidenceColor(capture.Confidence))
	fmt.Printf("  %suploaded%s     %s\n", c.Dim, c.Reset, capture.UploadedAt.Format(time.RFC3339))

	if len(capture.Evidence) == 0 {
		fmt.Printf("\n  %s(no evidence package recorded)%s\n", c.Dim, c.Reset)
		return
	}

	var pretty map[string]any
	if err := json.Unmarshal(capture.Evidence, &pretty); err != nil {
		printError(fmt.Sprintf("evidence package is not valid JSON: %v", err))
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(pretty, "  ", "  ")
	fmt.Printf("\n  %sevidence%s\n  %s\n", c.Dim, c.Reset, out)
}

func confidenceColor(level store.ConfidenceLevel) string {
	switch level {
	case store.ConfidenceHigh, store.ConfidenceVerified:
		return c.Green + string(level) + c.Reset
	case store.ConfidenceSuspicious:
		return c.Red + string(level) + c.Reset
	default:
		return c.Yellow + string(level) + c.Reset
	}
}

// cmdRecomputeConfidence re-derives a capture's confidence level from its
// stored evidence package and applies it via the single-recompute bound
// in capturemodel.Rescore, matching a late depth/hash-chain result that
// arrived after the initial upload.
func cmdRecomputeConfidence(captureID string) {
	st := openStore()
	defer st.Close()

	capture, err := capturemodel.Get(st, captureID)
	if err != nil {
		printError(fmt.Sprintf("capture %s: %v", captureID, err))
		os.Exit(1)
	}
	if len(capture.Evidence) == 0 {
		printError("capture has no evidence package to recompute from")
		os.Exit(1)
	}

	var pkg evidence.Package
	if err := json.Unmarshal(capture.Evidence, &pkg); err != nil {
		printError(fmt.Sprintf("stored evidence package is not valid: %v", err))
		os.Exit(1)
	}

	before := pkg.Confidence
	switch capture.CaptureType {
	case store.CaptureTypeVideo:
		pkg.Confidence = evidence.VideoConfidence(pkg.HardwareAttestation.Status, hashChainOutcome(pkg.HashChain), pkg.DepthAnalysis.Status)
	default:
		pkg.Confidence = evidence.PhotoConfidence(pkg.HardwareAttestation.Status, pkg.DepthAnalysis.Status, pkg.Metadata.Status)
	}
	pkg.ProcessingInfo.Recomputed = true
	pkg.ProcessingInfo.ProcessedAt = time.Now().UTC()

	applied, err := capturemodel.Rescore(st, captureID, &pkg)
	if err != nil {
		printError(fmt.Sprintf("recompute confidence: %v", err))
		os.Exit(1)
	}
	if !applied {
		printError("capture has already been recomputed once; no further recompute is allowed")
		os.Exit(1)
	}

	printSection("RECOMPUTED " + captureID)
	fmt.Printf("  %sbefore%s  %s\n", c.Dim, c.Reset, before)
	fmt.Printf("  %safter%s   %s\n", c.Dim, c.Reset, confidenceColor(pkg.Confidence))
}

func hashChainOutcome(summary *evidence.HashChainSummary) evidence.HashChainOutcome {
	if summary == nil {
		return evidence.HashChainUnavailable
	}
	return summary.Status
}
