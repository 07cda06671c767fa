package approvals

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMemorySink(t *testing.T) {

	Convey("Given a memory sink", t, func() {

		sink := NewMemorySink()
		ctx := context.Background()
		now := time.Now()

		r1 := Record{CallID: "c1", Call: ToolCall{Name: "files.rm"}, Outcome: OutcomeDenied, Reason: "nope", Timestamp: now}
		r2 := Record{CallID: "c2", Call: ToolCall{Name: "files.ls"}, Outcome: OutcomeApproved, Timestamp: now.Add(time.Second)}

		So(sink.Record(ctx, r1), ShouldBeNil)
		So(sink.Record(ctx, r2), ShouldBeNil)

		Convey("List should return records most recent first", func() {

			records, err := sink.List(ctx)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 2)
			So(records[0].CallID, ShouldEqual, "c2")
			So(records[1].CallID, ShouldEqual, "c1")
		})

		Convey("Recording the same call id twice should fail", func() {
			err := sink.Record(ctx, Record{CallID: "c1", Outcome: OutcomeAborted, Timestamp: now})
			So(errors.Is(err, ErrDuplicateRecord), ShouldBeTrue)
		})
	})
}
