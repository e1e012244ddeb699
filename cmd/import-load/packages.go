package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
)

var genders = []string{"female", "male"}

const letters = "abcdefghijklmnopqrstuvwxyz"

func randomName(r *rand.Rand, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(letters[r.Intn(len(letters))])
	}
	s := b.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

func randomNationalID(r *rand.Rand) string {
	return fmt.Sprintf("%d%010d", 1+r.Intn(9), r.Int63n(10_000_000_000))
}

// syntheticPackage builds a sealed package of random, unrelated persons.
func syntheticPackage(r *rand.Rand, persons int, format packagecodec.Format, now time.Time) (string, []byte, error) {
	packageID := "LOAD-" + uuid.NewString()
	env := &packagecodec.Envelope{
		Manifest: packagecodec.Manifest{
			PackageID:     packageID,
			SchemaVersion: "1.2",
			DeviceID:      fmt.Sprintf("load-device-%02d", r.Intn(20)),
			CollectorID:   "import-load",
			CreatedAt:     now.Add(-time.Duration(r.Intn(72)) * time.Hour),
		},
		Entities: make([]packagecodec.Entity, 0, persons),
	}
	for i := 0; i < persons; i++ {
		dob := time.Date(1940+r.Intn(60), time.Month(1+r.Intn(12)), 1+r.Intn(28), 0, 0, 0, 0, time.UTC)
		payload, err := json.Marshal(map[string]any{
			"national_id":   randomNationalID(r),
			"first_name":    randomName(r, 7),
			"last_name":     randomName(r, 9),
			"date_of_birth": dob.Format(time.DateOnly),
			"gender":        genders[r.Intn(len(genders))],
		})
		if err != nil {
			return "", nil, err
		}
		env.Entities = append(env.Entities, packagecodec.Entity{
			LocalID: fmt.Sprintf("p-%d", i+1),
			Type:    "person",
			Payload: payload,
		})
	}
	if err := packagecodec.Seal(env); err != nil {
		return "", nil, err
	}
	raw, err := packagecodec.Encode(env, format)
	if err != nil {
		return "", nil, err
	}
	return packageID, raw, nil
}
