// Package testutil holds loopback servers and assertions shared by tests.
package testutil
