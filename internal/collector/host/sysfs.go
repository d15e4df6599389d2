package host

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readCurFreqMHz reads the current scaling frequency of one core. cpufreq
// reports kHz.
func readCurFreqMHz(sysRoot string, core int) (uint64, error) {
	path := filepath.Join(sysRoot, "devices/system/cpu", "cpu"+strconv.Itoa(core), "cpufreq/scaling_cur_freq")

	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	khz, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, err
	}

	return (khz + 500) / 1000, nil
}

// brandFromCPUInfo returns the first model name in a /proc/cpuinfo style
// file. ARM kernels report "Hardware" or "Processor" instead.
func brandFromCPUInfo(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	var fallback string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch key {
		case "model name":
			return value
		case "Hardware", "Processor":
			if fallback == "" {
				fallback = value
			}
		}
	}

	return fallback
}
