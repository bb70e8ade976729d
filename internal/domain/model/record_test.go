package model_test

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/okian/scoreboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestIdentityJSON(t *testing.T) {
	Convey("Given identities from the game client", t, func() {
		Convey("When decoding a numeric user_id", func() {
			var rec model.ScoreRecord
			err := json.Unmarshal([]byte(`{"user_id": 123456789, "username": "neo", "score": 42}`), &rec)

			Convey("Then it is kept as its decimal text and re-encoded as a number", func() {
				So(err, ShouldBeNil)
				So(rec.Identity, ShouldEqual, model.Identity("123456789"))
				out, err := json.Marshal(rec)
				So(err, ShouldBeNil)
				So(string(out), ShouldEqual, `{"user_id":123456789,"username":"neo","score":42}`)
			})
		})

		Convey("When decoding a string user_id", func() {
			var id model.Identity
			So(json.Unmarshal([]byte(`"player-7"`), &id), ShouldBeNil)

			Convey("Then it stays a string", func() {
				So(id, ShouldEqual, model.Identity("player-7"))
				out, _ := json.Marshal(id)
				So(string(out), ShouldEqual, `"player-7"`)
			})
		})

		Convey("When a string has leading zeros", func() {
			out, err := json.Marshal(model.Identity("007"))

			Convey("Then it is not treated as a number", func() {
				So(err, ShouldBeNil)
				So(string(out), ShouldEqual, `"007"`)
			})
		})

		Convey("When decoding a fractional user_id", func() {
			var id model.Identity
			err := json.Unmarshal([]byte(`12.5`), &id)

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrInvalidIdentity), ShouldBeTrue)
			})
		})

		Convey("When decoding null", func() {
			id := model.Identity("x")
			So(json.Unmarshal([]byte(`null`), &id), ShouldBeNil)
			So(id.IsZero(), ShouldBeTrue)
		})
	})
}

func TestParseIdentity(t *testing.T) {
	Convey("Given identities from query strings", t, func() {
		Convey("When the text matches a decoded JSON string id", func() {
			for _, raw := range []string{"007", "+42", " 42", "player-7"} {
				var fromJSON model.Identity
				encoded, _ := json.Marshal(raw)
				So(json.Unmarshal(encoded, &fromJSON), ShouldBeNil)

				Convey("Then "+strconv.Quote(raw)+" names the same player", func() {
					So(model.ParseIdentity(raw), ShouldEqual, fromJSON)
				})
			}
		})

		Convey("When the text is the decimal form of a numeric id", func() {
			var fromJSON model.Identity
			So(json.Unmarshal([]byte(`123`), &fromJSON), ShouldBeNil)

			Convey("Then it matches the number", func() {
				So(model.ParseIdentity("123"), ShouldEqual, fromJSON)
				So(model.ParseIdentity("0123"), ShouldNotEqual, fromJSON)
			})
		})

		Convey("When the text is empty", func() {
			So(model.ParseIdentity("").IsZero(), ShouldBeTrue)
		})
	})
}
