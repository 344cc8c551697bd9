// Package config loads swcache settings from viper and the environment.
package config
