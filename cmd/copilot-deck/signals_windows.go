package main

// watchDumpSignal is a no-op; Windows has no SIGUSR1.
func watchDumpSignal(string) {}
