//go:build darwin

package config

import "os/exec"

// Secrets are generic passwords in the login keychain, service "podcaster",
// one account per secret key.

func keychainGet(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

// keychainSet updates the item in place (-U) when it already exists.
func keychainSet(service, account, value string) error {
	return exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).Run()
}
