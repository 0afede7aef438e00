package mpath

import (
	"regexp"
	"strings"
	"time"

	"github.com/juju/loggo"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"machinerun.io/storcert"
)

var logger = loggo.GetLogger("storcert.mpath")

// DeviceConfig is the effective multipath configuration for a device.
type DeviceConfig map[string]string

// Resolver maps a vendor/product pair to the multipath device configuration
// multipathd would apply to it.
type Resolver interface {
	// Resolve returns the effective configuration and true, or false when no
	// device section matches vendor and product.
	Resolve(vendor, product string) (DeviceConfig, bool, error)
}

// ShowConfig runs "multipathd show config" and parses its output.
func ShowConfig(r storcert.Runner, multipathd string) (ConfigTree, error) {
	out, err := storcert.RunCommand(r, multipathd, "show", "config")
	if err != nil {
		return ConfigTree{}, errors.Wrap(err, "failed to read multipathd config")
	}

	return ParseConfigText(string(out)), nil
}

// MatchDevice returns the first "device" subsection of the "devices"
// section whose vendor and product patterns both match. Subsections without
// a vendor or product, or with a pattern that does not compile, are skipped.
func MatchDevice(tree ConfigTree, vendor, product string) (Section, bool) {
	devices, ok := tree.Section("devices")
	if !ok {
		logger.Debugf("no devices section in multipathd config")
		return nil, false
	}

	for _, dev := range devices.Subsections("device") {
		vpat, vok := dev.Get("vendor")
		ppat, pok := dev.Get("product")

		if !vok || !pok {
			logger.Warningf("skipping device section without vendor or product: %v", dev)
			continue
		}

		reVendor, err := regexp.Compile(strings.Trim(vpat, `"`))
		if err != nil {
			logger.Warningf("skipping device section with bad vendor pattern %s: %s", vpat, err)
			continue
		}

		reProduct, err := regexp.Compile(strings.Trim(ppat, `"`))
		if err != nil {
			logger.Warningf("skipping device section with bad product pattern %s: %s", ppat, err)
			continue
		}

		if reVendor.MatchString(vendor) && reProduct.MatchString(product) {
			logger.Debugf("matched vendor %s and product %s with %s/%s", vendor, product, vpat, ppat)
			return dev, true
		}
	}

	return nil, false
}

// Overlay returns defaults with the attributes of sect laid over them. When
// sect repeats a key, the first occurrence wins.
func Overlay(defaults map[string]string, sect Section) DeviceConfig {
	dc := DeviceConfig{}

	for k, v := range defaults {
		dc[k] = v
	}

	seen := map[string]bool{}

	for _, e := range sect {
		if e.Sub || seen[e.Key] {
			continue
		}

		seen[e.Key] = true
		dc[e.Key] = e.Value
	}

	return dc
}

// ResolveTree resolves vendor and product against an already parsed tree.
func ResolveTree(tree ConfigTree, defaults map[string]string, vendor, product string) (DeviceConfig, bool) {
	dev, ok := MatchDevice(tree, vendor, product)
	if !ok {
		return nil, false
	}

	return Overlay(defaults, dev), true
}

type daemonResolver struct {
	runner     storcert.Runner
	multipathd string
	defaults   map[string]string
}

// NewResolver returns a Resolver that queries multipathd on every call.
func NewResolver(r storcert.Runner, settings storcert.Settings) Resolver {
	return &daemonResolver{
		runner:     r,
		multipathd: settings.Multipathd,
		defaults:   settings.MultipathDefaults,
	}
}

func (dr *daemonResolver) Resolve(vendor, product string) (DeviceConfig, bool, error) {
	tree, err := ShowConfig(dr.runner, dr.multipathd)
	if err != nil {
		return nil, false, err
	}

	dc, ok := ResolveTree(tree, dr.defaults, vendor, product)

	return dc, ok, nil
}

type cachingResolver struct {
	runner     storcert.Runner
	multipathd string
	defaults   map[string]string
	cache      *cache.Cache
}

// CachingResolver returns a Resolver that reuses a multipathd config dump
// for settings.ConfigCacheTTL. Certification walks every LUN of a target, and
// the daemon config does not change in between.
func CachingResolver(r storcert.Runner, settings storcert.Settings) Resolver {
	ttl := settings.ConfigCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &cachingResolver{
		runner:     r,
		multipathd: settings.Multipathd,
		defaults:   settings.MultipathDefaults,
		cache:      cache.New(ttl, 2*ttl),
	}
}

func (cr *cachingResolver) tree() (ConfigTree, error) {
	const cacheName = "show-config"

	if cached, found := cr.cache.Get(cacheName); found {
		return cached.(ConfigTree), nil
	}

	tree, err := ShowConfig(cr.runner, cr.multipathd)
	if err != nil {
		return tree, err
	}

	cr.cache.Set(cacheName, tree, cache.DefaultExpiration)

	return tree, nil
}

func (cr *cachingResolver) Resolve(vendor, product string) (DeviceConfig, bool, error) {
	type result struct {
		dc DeviceConfig
		ok bool
	}

	// inquiry strings never hold NUL, so the key can not be ambiguous.
	key := "resolve\x00" + vendor + "\x00" + product
	if cached, found := cr.cache.Get(key); found {
		ret := cached.(result)
		if !ret.ok {
			return nil, false, nil
		}

		// callers own what they get back.
		return Overlay(ret.dc, nil), true, nil
	}

	tree, err := cr.tree()
	if err != nil {
		return nil, false, err
	}

	dc, ok := ResolveTree(tree, cr.defaults, vendor, product)
	cr.cache.Set(key, result{dc: dc, ok: ok}, cache.DefaultExpiration)

	if !ok {
		return nil, false, nil
	}

	return Overlay(dc, nil), true, nil
}
