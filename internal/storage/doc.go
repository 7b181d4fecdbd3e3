// Package storage provides an optional audit trail of stream lifecycle and
// delivery events. It never holds bot state; everything the bot needs to run
// lives in memory and is rebuilt from gateway events after a restart.
package storage
