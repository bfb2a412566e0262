package ingest

import (
	"fmt"
	"strconv"

	"miot-vitals/internal/domain"
)

// 生理合理性范围。便宜的提交前过滤，不是医学准确性保证
const (
	heartRateMin = 30
	heartRateMax = 220
	spo2Min      = 70
	spo2Max      = 100
	tempMin      = 32
	tempMax      = 45
)

// CheckPlausibility 对解码后的读数做范围校验。
// 字段缺失或越界返回 SanityCheckFailed，指明字段与原始值。无副作用
func CheckPlausibility(v domain.Vitals) error {
	if err := checkRange("heartRate", v.HeartRate, heartRateMin, heartRateMax); err != nil {
		return err
	}
	if err := checkRange("spo2", v.SpO2, spo2Min, spo2Max); err != nil {
		return err
	}
	return checkRange("temp", v.Temp, tempMin, tempMax)
}

func checkRange(field string, value *float64, min, max float64) error {
	if value == nil {
		r := reject(domain.EventSanityCheckFail, fmt.Sprintf("Sanity Check Fail: missing field %s", field))
		r.Metadata = map[string]string{"field": field}
		return r
	}
	if *value < min || *value > max {
		r := reject(domain.EventSanityCheckFail,
			fmt.Sprintf("Sanity Check Fail: %s=%s out of range [%g,%g]",
				field, strconv.FormatFloat(*value, 'f', -1, 64), min, max))
		r.Metadata = map[string]string{
			"field": field,
			"value": strconv.FormatFloat(*value, 'f', -1, 64),
		}
		return r
	}
	return nil
}
