package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Node connection settings, populated by LoadConfig via loadNodeConfig.
var (
	// NodeGRPC is the host:port of the node's gRPC interface.
	NodeGRPC string
	// NodeTLSCertPath is the path to the node's TLS certificate.
	NodeTLSCertPath string
	// NodeMacaroonPath is the path to a readonly macaroon.
	NodeMacaroonPath string
)

func loadNodeConfig() error {
	var err error

	NodeGRPC, err = getEnv("LND_GRPC_ENDPOINT")
	if err != nil {
		return err
	}

	NodeTLSCertPath, err = getEnv("LND_TLS_CERT_PATH")
	if err != nil {
		return err
	}

	NodeMacaroonPath, err = getEnv("LND_MACAROON_PATH")
	if err != nil {
		return err
	}

	for _, path := range []*string{&NodeTLSCertPath, &NodeMacaroonPath} {
		if strings.HasPrefix(*path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			*path = filepath.Join(home, (*path)[2:])
		}
	}

	return nil
}
