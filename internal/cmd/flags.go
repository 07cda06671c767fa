package cmd

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
)

var (
	fTLSServer = pflag.NewFlagSet("tlsserver", pflag.ExitOnError)
	fTLSClient = pflag.NewFlagSet("tlsclient", pflag.ExitOnError)
	fHealth    = pflag.NewFlagSet("health", pflag.ExitOnError)
	fPolicy    = pflag.NewFlagSet("policy", pflag.ExitOnError)
	fAudit     = pflag.NewFlagSet("audit", pflag.ExitOnError)

	initialized = false
)

func initSharedFlagSet() {

	if initialized {
		return
	}

	initialized = true

	fTLSServer.StringP("tls-server-cert", "c", "", "path to the server certificate for incoming HTTPS connections.")
	fTLSServer.StringP("tls-server-key", "k", "", "path to the key for the server certificate.")

	fTLSClient.String("tls-client-backend-ca", "", "path to a CA to validate remote backend server certificates.")
	fTLSClient.Bool("tls-client-insecure-skip-verify", false, "skip backend's server certificates validation. Do not do this.")

	fHealth.String("health-listen", ":8080", "listen address of the health and metrics server.")
	fHealth.Bool("health-enable", false, "enables the health and metrics server.")

	fPolicy.StringP("policy-url", "U", "", "URL of the evaluator to POST policy requests.")
	fPolicy.StringP("policy-token", "T", "", "token to use to authenticate against the remote evaluator.")
	fPolicy.StringP("policy-exec", "E", "", "command to run as the policy evaluator.")
	fPolicy.StringP("policy-rego", "R", "", "path to a rego policy file.")
	fPolicy.Bool("policy-watch", false, "reload the rego policy when the file changes.")
	fPolicy.Duration("policy-timeout", 0, "maximum duration of one policy evaluation.")

	fAudit.String("audit-db", "", "path to the sqlite audit database. Empty keeps outcomes in memory.")
}

func defaultConfigPath(name string) string {
	return filepath.Join(xdg.ConfigHome, "gatelet", name)
}
