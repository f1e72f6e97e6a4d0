// Package config provides environment-based configuration.
//
// Loads plain environment variables into the Config struct, applies
// defaults, and validates required fields. A .env file is honored in
// development via godotenv (loaded by main before Load runs).
package config
