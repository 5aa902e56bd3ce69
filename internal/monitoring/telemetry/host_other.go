//go:build !linux

package telemetry

func totalMemory() (uint64, error) {
	return 0, ErrUnsupported
}

func diskUsagePercent(string) (float64, error) {
	return 0, ErrUnsupported
}
