package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// coordPrecision - знаков после запятой в ключе; 1e-6 градуса ~ 0.1 м
const coordPrecision = 6

// DistanceKey строит ключ кэша для расстояния между двумя точками.
// Координаты округляются, чтобы одинаковые точки из разных снимков
// попадали в один ключ.
func DistanceKey(method string, fromLat, fromLng, toLat, toLng float64) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(strconv.FormatFloat(fromLat, 'f', coordPrecision, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(fromLng, 'f', coordPrecision, 64))
	b.WriteByte(';')
	b.WriteString(strconv.FormatFloat(toLat, 'f', coordPrecision, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(toLng, 'f', coordPrecision, 64))

	return "dist:" + method + ":" + ShortHash([]byte(b.String()))
}

// DistancePattern - шаблон всех ключей расстояний метода
func DistancePattern(method string) string {
	return "dist:" + method + ":*"
}

// ShortHash короткий хеш (16 символов)
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
