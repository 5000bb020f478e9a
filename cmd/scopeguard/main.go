// Scopeguard - scope policy gate and finding triage for authorized testing
//
// Usage:
//
//	scopeguard check --scope scope.json --target api.example.com --action http-check
//	scopeguard batch --scope scope.json --plan plan.json --workers 4
//	scopeguard triage --nuclei results.jsonl --model weights.yaml
//	scopeguard validate --scope scope.json --blocklist blocked.json
//
// Every command reads the configuration file named by --config (if any) and
// the SCOPEGUARD environment overrides, then records its decisions and
// findings to the SQLite database and the JSONL audit log.
package main

func main() {
	Execute()
}
