package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gatelet/gatelet/pkgs/approvals"
	"github.com/gatelet/gatelet/pkgs/compositor"
	"github.com/gatelet/gatelet/pkgs/policy"
)

type mountsFile struct {
	Mounts map[string]compositor.MountSpec `yaml:"mounts"`
}

func loadMounts(path string) (map[string]compositor.MountSpec, error) {

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("unable to read mounts file: %w", err)
	}

	mf := mountsFile{}
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("unable to decode mounts file: %w", err)
	}

	if len(mf.Mounts) == 0 {
		return nil, fmt.Errorf("mounts file declares no mounts")
	}

	return mf.Mounts, nil
}

func serverTLSConfigFromFlags() (*tls.Config, error) {

	certPath, _ := fTLSServer.GetString("tls-server-cert")
	keyPath, _ := fTLSServer.GetString("tls-server-key")

	if certPath == "" || keyPath == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read server certificate: %w", err)
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func clientTLSConfigFromFlags() (*tls.Config, error) {

	caPath, _ := fTLSClient.GetString("tls-client-backend-ca")
	skipVerify, _ := fTLSClient.GetBool("tls-client-insecure-skip-verify")

	if skipVerify {
		slog.Warn("Certificate validation deactivated. Connection will not be secure")
	}

	if caPath == "" && !skipVerify {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: skipVerify, // #nosec G402
	}

	if caPath != "" {
		data, err := os.ReadFile(caPath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("unable to read trusted ca: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(data)
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// makeEvaluator builds the evaluator from the policy flags. Exactly
// one of exec, rego or url must be set.
func makeEvaluator(ctx context.Context) (policy.Evaluator, error) {

	execCmd := viper.GetString("policy-exec")
	regoPath := viper.GetString("policy-rego")
	policyURL := viper.GetString("policy-url")
	watch := viper.GetBool("policy-watch")

	set := 0
	for _, v := range []string{execCmd, regoPath, policyURL} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of --policy-exec, --policy-rego or --policy-url must be set")
	}

	switch {

	case execCmd != "":
		parts := strings.Fields(execCmd)
		return policy.NewExec(parts[0], parts[1:], viper.GetDuration("policy-timeout")), nil

	case regoPath != "":

		if watch {
			return policy.NewRegoWatch(ctx, regoPath)
		}

		data, err := os.ReadFile(regoPath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("unable to read policy file: %w", err)
		}

		return policy.NewRego(string(data))

	default:

		tlsConfig, err := clientTLSConfigFromFlags()
		if err != nil {
			return nil, err
		}

		return policy.NewHTTP(policyURL, viper.GetString("policy-token"), tlsConfig), nil
	}
}

func makeSink() (approvals.Sink, error) {

	dbPath := viper.GetString("audit-db")

	if dbPath == "" {
		slog.Info("No audit database configured. outcomes kept in memory")
		return approvals.NewMemorySink(), nil
	}

	sink, err := approvals.NewSQLiteSink(dbPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open audit database: %w", err)
	}

	return sink, nil
}
