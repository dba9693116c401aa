package refresh

import (
	"errors"
	"strings"
	"testing"
)

// FuzzRecordFromFields decodes arbitrary hash contents as a stored record.
// Goal: no panics; anything missing uid, fid or a numeric exp is ErrCorrupt.
func FuzzRecordFromFields(f *testing.F) {
	f.Add("u1", "fam-1", "admin,member", "1767225600000", "1767222000000")
	f.Add("", "fam-1", "", "1", "1")
	f.Add("u1", "", "", "1", "1")
	f.Add("u1", "fam-1", "", "not-a-number", "")
	f.Add("u1", "fam-1", ",,", "-5", "x")

	f.Fuzz(func(t *testing.T, uid, fid, roles, exp, crt string) {
		rec, err := recordFromFields(map[string]string{
			"uid":   uid,
			"fid":   fid,
			"roles": roles,
			"exp":   exp,
			"crt":   crt,
		})
		if err != nil {
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			return
		}
		if rec.UserID != uid || rec.FamilyID != fid {
			t.Fatalf("identity mismatch: %q/%q vs %q/%q", rec.UserID, rec.FamilyID, uid, fid)
		}
		if got := strings.Join(rec.Roles, rolesSeparator); got != roles {
			t.Fatalf("roles did not round trip: %q vs %q", got, roles)
		}
	})
}
