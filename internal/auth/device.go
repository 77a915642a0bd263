// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth

import ua "github.com/mileusna/useragent"

// DeviceInfo is the opaque device description derived from a User-Agent
// string at session creation. Stored alongside the session for display in
// device listings; never used for enforcement.
type DeviceInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"osVersion,omitempty"`
	Device         string `json:"device,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot,omitempty"`
}

// ParseDeviceInfo derives DeviceInfo from a raw User-Agent header. An empty
// or unrecognized user agent yields a zero DeviceInfo, never an error.
func ParseDeviceInfo(userAgent string) DeviceInfo {
	if userAgent == "" {
		return DeviceInfo{}
	}

	parsed := ua.Parse(userAgent)
	return DeviceInfo{
		Browser:        parsed.Name,
		BrowserVersion: parsed.Version,
		OS:             parsed.OS,
		OSVersion:      parsed.OSVersion,
		Device:         parsed.Device,
		Mobile:         parsed.Mobile || parsed.Tablet,
		Bot:            parsed.Bot,
	}
}
