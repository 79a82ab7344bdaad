package config

import (
	"os"
)

// Credentials locate the org and authenticate to it.
type Credentials struct {
	InstanceURL string
	AccessToken string
	APIVersion  string
}

type credentialsDoc struct {
	Version     int `yaml:"version"`
	Credentials struct {
		InstanceURL    string `yaml:"instance-url"`
		AccessToken    string `yaml:"access-token"`
		AccessTokenEnv string `yaml:"access-token-env"`
		APIVersion     string `yaml:"api-version"`
	} `yaml:"credentials"`
}

// ReadCredentials loads the credentials document at path, resolving
// access-token-env from the process environment.
func ReadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, invalid("read credentials: %v", err)
	}
	return ParseCredentials(data, os.Getenv)
}

// ParseCredentials validates and decodes a credentials document. Exactly
// one of access-token and access-token-env must be set.
func ParseCredentials(data []byte, getenv func(string) string) (Credentials, error) {
	if err := checkSchema("#Credentials", data); err != nil {
		return Credentials{}, err
	}
	var doc credentialsDoc
	if err := decodeStrict(data, &doc); err != nil {
		return Credentials{}, err
	}
	c := doc.Credentials
	out := Credentials{InstanceURL: c.InstanceURL, APIVersion: c.APIVersion}
	switch {
	case c.AccessToken != "" && c.AccessTokenEnv != "":
		return Credentials{}, invalid("credentials: access-token and access-token-env are mutually exclusive")
	case c.AccessToken != "":
		out.AccessToken = c.AccessToken
	case c.AccessTokenEnv != "":
		out.AccessToken = getenv(c.AccessTokenEnv)
		if out.AccessToken == "" {
			return Credentials{}, invalid("credentials: environment variable %s is not set", c.AccessTokenEnv)
		}
	default:
		return Credentials{}, invalid("credentials: access-token or access-token-env is required")
	}
	return out, nil
}
