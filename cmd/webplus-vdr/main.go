// Command webplus-vdr runs a single did:webplus host's Verifiable Data
// Registry: the HTTP server a wallet submits root/successor documents to,
// and anyone resolves documents and the append-log from (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/stackdump/webplus/internal/logger"
	"github.com/stackdump/webplus/internal/selfhash"
	"github.com/stackdump/webplus/internal/vdrserver"
	"github.com/stackdump/webplus/pkg/docstore"
)

func main() {
	addr := flag.String("addr", ":8080", "Server address")
	storeDir := flag.String("store", "data", "Filesystem document store directory")
	host := flag.String("host", "localhost:8080", "DID host token this registry is authoritative for")
	hashName := flag.String("hash", string(selfhash.DefaultFunction), "Self-hash function for new root documents")
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

	hashFn, ok := selfhash.Parse(*hashName)
	if !ok {
		log.Fatalf("unknown self-hash function: %s", *hashName)
	}

	appLogger.LogInfo(fmt.Sprintf("Using filesystem store: %s", *storeDir))
	appLogger.LogInfo(fmt.Sprintf("DID host: %s", *host))
	appLogger.LogInfo(fmt.Sprintf("Self-hash function: %s", hashFn))

	store := docstore.New(*storeDir)
	server := vdrserver.New(store, *host, hashFn, appLogger)

	handler := logger.LoggingMiddleware(appLogger, *logHeaders)(server)

	appLogger.LogInfo(fmt.Sprintf("Starting VDR on %s", *addr))
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
