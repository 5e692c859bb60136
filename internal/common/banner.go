package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner to stderr.
func PrintBanner(config *Config, logger *Logger) {
	version := GetVersion()
	build := GetBuild()
	commit := GetGitCommit()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	storeAddr := config.Store.Address

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 70
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	art := []string{
		` 88888    ,ad8888ba,   88888888ba,     88b           d88  ,ad8888ba,  ad88888ba  88        88`,
		` 88      d8"'    ` + "`" + `"8b  88      ` + "`" + `"8b   888b         d888 d8"'    ` + "`" + `"8b dba     ` + "`" + `"8b 88        88`,
		` 88     d8'        88  88        ` + "`" + `8b  88` + "`" + `8b       d8'88 d8'        88      ,8P' 88        88`,
		` 88     88          88  88         88  88 ` + "`" + `8b     d8' 88 88          88aaaaaa8P'  88        88`,
		` 88     88          88  88         88  88  ` + "`" + `8b   d8'  88 88          88""""""8b,  88        88`,
		` 88     Y8,        ,8P  88         8P  88   ` + "`" + `8b d8'   88 Y8,        88      ` + "`" + `8b 88        88`,
		` 88      Y8a.    .a8P   88      .a8P   88    ` + "`" + `888'    88  Y8a.    .a8P 88      ,8P Y8a.    .a8P`,
		` 88888888 ` + "`" + `"Y8888Y"'    88888888Y"'    88     ` + "`" + `8'    88   ` + "`" + `"Y8888Y"'  88888888P"   ` + "`" + `"Y8888Y"'`,
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")
	for _, line := range art {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", textColor, line, banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s  Distributed Test-Job Scheduling & Dispatch%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	kvPad := 16
	kvLines := [][2]string{
		{"Version", version},
		{"Build", build},
		{"Commit", commit},
		{"Environment", config.Environment},
		{"Service URL", serviceURL},
		{"Store", storeAddr},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("commit", commit).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Str("store_address", storeAddr).
		Msg("jobmesh started")
}

// PrintShutdownBanner displays the application shutdown banner to stderr.
func PrintShutdownBanner(logger *Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 42
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  JOBMESH SHUTTING DOWN%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n", hr)
	fmt.Fprintf(os.Stderr, "\n")

	logger.Info().Msg("jobmesh shutting down")
}
