package helpers

// Memory sizing for the startup log and the status endpoint. The probe itself
// is OS-specific; zero means the probe could not read the host.

const fallbackMemoryMB = 512

// GetRecommendedMemoryLimit returns a soft memory ceiling in MB: three
// quarters of physical RAM, never below the fallback unless the host itself
// has less.
func GetRecommendedMemoryLimit() int {
	totalMB := GetTotalSystemMemoryMB()
	if totalMB == 0 {
		return fallbackMemoryMB
	}

	limit := totalMB * 3 / 4
	if limit < fallbackMemoryMB {
		if totalMB < fallbackMemoryMB {
			return totalMB
		}
		return fallbackMemoryMB
	}
	return limit
}
