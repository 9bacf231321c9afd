// Command webplus-vdg runs a Verifiable Data Gateway: a caching aggregator
// in front of one or more VDRs, placing every consumer that resolves
// through it into the same scope of agreement (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/stackdump/webplus/internal/httpscheme"
	"github.com/stackdump/webplus/internal/logger"
	"github.com/stackdump/webplus/internal/vdgserver"
	"github.com/stackdump/webplus/pkg/docstore"
	"github.com/stackdump/webplus/pkg/resolver"
)

func main() {
	addr := flag.String("addr", ":8081", "Server address")
	storeDir := flag.String("store", "data", "Filesystem document store directory")
	host := flag.String("host", "localhost:8081", "Authority this gateway's own VDR-style read routes are served under")
	schemeOverrides := flag.String("scheme-overrides", "", "Comma-separated host=scheme pairs overriding default scheme selection")
	apiKey := flag.String("api-key", "", "Required x-api-key value; empty disables authorization")
	jsonlLog := flag.Bool("jsonl", false, "Use JSONL format for logging")
	logHeaders := flag.Bool("log-headers", false, "Log incoming request headers")
	flag.Parse()

	var appLogger logger.Logger
	if *jsonlLog {
		appLogger = logger.NewJSONLLogger(os.Stdout)
		appLogger.LogInfo("Using JSONL logging format")
	} else {
		appLogger = logger.NewTextLogger()
	}

	overrides, err := httpscheme.ParseTable(*schemeOverrides)
	if err != nil {
		log.Fatalf("invalid -scheme-overrides: %v", err)
	}

	appLogger.LogInfo(fmt.Sprintf("Using filesystem store: %s", *storeDir))
	appLogger.LogInfo(fmt.Sprintf("Gateway host: %s", *host))
	appLogger.LogInfo(fmt.Sprintf("API key required: %v", *apiKey != ""))

	store := docstore.New(*storeDir)
	res := resolver.New(resolver.Config{Store: store, SchemeOverrides: overrides})
	server := vdgserver.New(store, res, *host, *apiKey, appLogger)

	handler := logger.LoggingMiddleware(appLogger, *logHeaders)(server)

	appLogger.LogInfo(fmt.Sprintf("Starting VDG on %s", *addr))
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
