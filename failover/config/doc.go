// Package config assembles the failover library's configuration from the
// environment. Every knob has a sane default so a single primary cache plus
// a single primary datastore can run with just four variables set.
package config
