package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrPolicyNotFound is returned when the policy file does not exist.
var ErrPolicyNotFound = errors.New("validation policy not found")

// Series keys such as macro.cpi contain dots, so viper paths use "::".
const keyDelim = "::"

// Knobs of the optional defaults file and the policy keys they feed.
var defaultsFileKeys = map[string]string{
	"data_quality::min_history_months":        "requirements::min_history::monthly_months",
	"monitoring::missing_data_alert_threshold": "requirements::missing_data_alert_threshold",
}

// LoadPolicy builds a Policy from an optional defaults file and a required
// policy file. Values in the policy file win over the defaults file, which in
// turn wins over built-in defaults.
func LoadPolicy(defaultsPath, policyPath string) (*Policy, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelim))
	v.SetConfigType("yaml")

	if defaultsPath != "" {
		dv, err := readOptional(defaultsPath)
		if err != nil {
			return nil, err
		}
		if dv != nil {
			for from, to := range defaultsFileKeys {
				if dv.IsSet(from) {
					v.SetDefault(to, dv.Get(from))
				}
			}
		}
	}

	if _, err := os.Stat(policyPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, policyPath)
		}
		return nil, fmt.Errorf("stat policy %s: %w", policyPath, err)
	}
	v.SetConfigFile(policyPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy %s: %w", policyPath, err)
	}

	p, err := newPolicy()
	if err != nil {
		return nil, err
	}
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := decodeFreshness(v, &p.Freshness); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if !v.IsSet("metrics::include") {
		p.Metrics.Include = append([]string(nil), AllMetrics...)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", policyPath, err)
	}
	return p, nil
}

func readOptional(path string) (*viper.Viper, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat defaults %s: %w", path, err)
	}
	dv := viper.NewWithOptions(viper.KeyDelimiter(keyDelim))
	dv.SetConfigFile(path)
	dv.SetConfigType("yaml")
	if err := dv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read defaults %s: %w", path, err)
	}
	return dv, nil
}

// decodeFreshness splits freshness_days_by_key into per-key overrides and the
// "defaults" bucket entry.
func decodeFreshness(v *viper.Viper, f *FreshnessPolicy) error {
	raw := v.GetStringMap("freshness_days_by_key")
	f.ByKey = make(map[string]int, len(raw))
	for k, val := range raw {
		if k == "defaults" {
			continue
		}
		days, err := cast.ToIntE(val)
		if err != nil {
			return fmt.Errorf("freshness_days_by_key.%s: %w", k, err)
		}
		f.ByKey[k] = days
	}

	buckets := map[string]*int{
		"daily":     &f.Defaults.Daily,
		"monthly":   &f.Defaults.Monthly,
		"quarterly": &f.Defaults.Quarterly,
	}
	for name, dst := range buckets {
		key := "freshness_days_by_key" + keyDelim + "defaults" + keyDelim + name
		if !v.IsSet(key) {
			continue
		}
		days, err := cast.ToIntE(v.Get(key))
		if err != nil {
			return fmt.Errorf("freshness_days_by_key.defaults.%s: %w", name, err)
		}
		*dst = days
	}
	return nil
}
