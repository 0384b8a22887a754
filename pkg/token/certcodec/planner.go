package certcodec

// blockSize returns the rounding granularity §4.2.1 step 2 specifies per
// zone/device-family: 32 for legacy data zones, 4 for CA2 config zones,
// and "per-zone-dynamic" for handle-family devices (where rounding is
// omitted entirely).
func blockSize(zone Zone, handleFamily bool) int {
	if handleFamily {
		return 1
	}
	switch zone {
	case ZoneData, ZoneDedicatedData:
		return 32
	case ZoneConfig:
		return 4
	default:
		return 1
	}
}

func roundDown(v, block int) int {
	if block <= 1 {
		return v
	}
	return (v / block) * block
}

func roundUp(v, block int) int {
	if block <= 1 {
		return v
	}
	rem := v % block
	if rem == 0 {
		return v
	}
	return v + (block - rem)
}

// MaxPlannedLocations bounds the planner's output list (§4.2.1 step 4
// "return failure buffer too small if the list would exceed its bound").
const MaxPlannedLocations = 8

// zoneCapacity is consulted only for handle-family devices (§4.2.1 step
// 3's "for handle-family devices, after merging verify that the merged
// end does not exceed the zone capacity"). Capacities are per the
// TA100/TA101 dedicated-data zone sizing; config/OTP are not used by
// handle-family devices in this codec.
func zoneCapacity(zone Zone) int {
	switch zone {
	case ZoneDedicatedData:
		return 4096
	case ZoneData:
		return 4096
	default:
		return 1 << 30
	}
}

// Plan computes the minimum set of disjoint device read regions needed to
// reconstruct def's certificate on a device of the given family, per
// §4.2.1. deviceSNLoc is the synthetic device-SN location to add when
// def.SNSource reads the device serial number; pass a zero DeviceLocation
// (Count==0) when it doesn't apply.
func Plan(def *CertificateDefinition, handleFamily bool, deviceSNLoc DeviceLocation) ([]DeviceLocation, error) {
	var inputs []DeviceLocation
	if !def.CompCertDevLoc.Empty() {
		inputs = append(inputs, def.CompCertDevLoc)
	}
	if !def.CertSNDevLoc.Empty() {
		inputs = append(inputs, def.CertSNDevLoc)
	}
	if !def.PublicKeyDevLoc.Empty() {
		inputs = append(inputs, def.PublicKeyDevLoc)
	}
	for _, ce := range def.CustomElements {
		if !ce.DeviceLoc.Empty() {
			inputs = append(inputs, ce.DeviceLoc)
		}
	}
	if snReadsDeviceSN(def.SNSource) && !deviceSNLoc.Empty() {
		inputs = append(inputs, deviceSNLoc)
	}

	var merged []DeviceLocation
	for _, in := range inputs {
		rounded := in
		if !handleFamily {
			block := blockSize(in.Zone, false)
			start := roundDown(in.Offset, block)
			end := roundUp(in.End(), block)
			rounded = DeviceLocation{Zone: in.Zone, Slot: in.Slot, IsGenKey: in.IsGenKey, Offset: start, Count: end - start}
		}

		mergedInto := false
		for i := range merged {
			if Mergeable(merged[i], rounded) {
				start := minInt(merged[i].Offset, rounded.Offset)
				end := maxInt(merged[i].End(), rounded.End())
				merged[i].Offset = start
				merged[i].Count = end - start
				mergedInto = true
				if handleFamily && merged[i].End() > zoneCapacity(merged[i].Zone) {
					return nil, errf(CodeElemOutOfBounds, "zone %d end %d exceeds capacity %d", merged[i].Zone, merged[i].End(), zoneCapacity(merged[i].Zone))
				}
				break
			}
		}
		if !mergedInto {
			if len(merged) >= MaxPlannedLocations {
				return nil, errf(CodeBufferTooSmall, "planned location list exceeds bound %d", MaxPlannedLocations)
			}
			merged = append(merged, rounded)
		}
	}
	return merged, nil
}

func snReadsDeviceSN(src SNSource) bool {
	switch src {
	case SNDeviceSN, SNDeviceSNHashRaw, SNDeviceSNHashPos, SNDeviceSNHash:
		return true
	default:
		return false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
