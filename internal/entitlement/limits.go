package entitlement

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
)

// RoleLimits is one row of the limits table.
type RoleLimits struct {
	Role         string `mapstructure:"role"`
	DailyLimit   int64  `mapstructure:"dailyLimit"`
	MonthlyLimit int64  `mapstructure:"monthlyLimit"`
}

// Limits is the role → quota mapping plus the bypass threshold. Roles at
// or above BypassRole skip enforcement while usage is still recorded.
type Limits struct {
	Roles      []RoleLimits `mapstructure:"roles"`
	BypassRole string       `mapstructure:"bypassRole"`
}

func DefaultLimits() Limits {
	return Limits{
		Roles: []RoleLimits{
			{Role: string(principaldomain.RoleStandard), DailyLimit: 50, MonthlyLimit: 1000},
			{Role: string(principaldomain.RoleSupport), DailyLimit: 200, MonthlyLimit: 5000},
		},
		BypassRole: string(principaldomain.RoleAdmin),
	}
}

// LimitsHolder serves the current limits table and hot-reloads it when the
// mounted config file changes, so limit adjustments need no redeploy.
type LimitsHolder struct {
	current atomic.Value // holds Limits
}

func NewLimitsHolder() (*LimitsHolder, error) {
	v := viper.New()

	v.SetConfigName("entitlements")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/quotaguard/config")
	v.AddConfigPath("/etc/quotaguard")
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUOTAGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	useDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		useDefaults = true
	}

	cfg := DefaultLimits()
	if !useDefaults {
		if err := v.UnmarshalKey("entitlements", &cfg); err != nil {
			return nil, err
		}
		if err := validateLimits(cfg); err != nil {
			return nil, err
		}
	}

	holder := &LimitsHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Limits
		if err := v.UnmarshalKey("entitlements", &updated); err != nil {
			log.Printf("[entitlements] reload failed: %v", err)
			return
		}
		if err := validateLimits(updated); err != nil {
			log.Printf("[entitlements] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[entitlements] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticHolder pins a fixed limits table. Test seam.
func NewStaticHolder(cfg Limits) *LimitsHolder {
	holder := &LimitsHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *LimitsHolder) Get() Limits {
	return h.current.Load().(Limits)
}

func validateLimits(cfg Limits) error {
	if len(cfg.Roles) == 0 {
		return errors.New("entitlements.roles cannot be empty")
	}
	for _, row := range cfg.Roles {
		if strings.TrimSpace(row.Role) == "" {
			return errors.New("entitlements.roles entries need a role name")
		}
		if row.DailyLimit <= 0 || row.MonthlyLimit <= 0 {
			return errors.New("entitlements limits must be positive")
		}
	}
	if _, ok := principaldomain.ParseRole(cfg.BypassRole); !ok {
		return errors.New("entitlements.bypassRole must be a known role")
	}
	return nil
}
