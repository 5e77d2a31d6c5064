package header

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

var fixedTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

const fixedDate = "Tue, 05 Mar 2024 14:07:09 +0000"

var testEnv = Envelope{Sender: "u", Recipient: "bob", Received: fixedTime}

func TestCopyHeaders(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus Status
		wantOutput string
		wantRest   string
	}{
		{
			name:       "from and date",
			input:      "From: sender@example.com\nDate: Wed, 21 Oct 2020 07:28:00 GMT\n\nBody",
			wantStatus: Status{HasOriginator: true, HasDate: true},
			wantOutput: "From: sender@example.com\nDate: Wed, 21 Oct 2020 07:28:00 GMT\n",
			wantRest:   "Body",
		},
		{
			name:       "implausible from and date are still detected",
			input:      "From: :?\nDate: ,\n\nBody",
			wantStatus: Status{HasOriginator: true, HasDate: true},
			wantOutput: "From: :?\nDate: ,\n",
			wantRest:   "Body",
		},
		{
			name:       "date only",
			input:      "Date: 21 Oct 2020\n\nBody",
			wantStatus: Status{HasDate: true},
			wantOutput: "Date: 21 Oct 2020\n",
			wantRest:   "Body",
		},
		{
			name:       "from only",
			input:      "From: sender@example.com\n\nBody",
			wantStatus: Status{HasOriginator: true},
			wantOutput: "From: sender@example.com\n",
			wantRest:   "Body",
		},
		{
			name:       "empty header block",
			input:      "\nBody",
			wantStatus: Status{},
			wantOutput: "",
			wantRest:   "Body",
		},
		{
			name:       "crlf blank line ends headers",
			input:      "Subject: hi\r\n\r\nBody\r\n",
			wantStatus: Status{},
			wantOutput: "Subject: hi\r\n",
			wantRest:   "Body\r\n",
		},
		{
			name:       "lowercase prefix is not recognized",
			input:      "from: a@x\ndate: today\n\n",
			wantStatus: Status{},
			wantOutput: "from: a@x\ndate: today\n",
		},
		{
			name:       "folded continuation is not recognized",
			input:      "X-Foo: bar\n From: a@x\n\n",
			wantStatus: Status{},
			wantOutput: "X-Foo: bar\n From: a@x\n",
		},
		{
			name:       "prefix needs the space",
			input:      "From:a@x\n\n",
			wantStatus: Status{},
			wantOutput: "From:a@x\n",
		},
		{
			name:       "headers end at end of stream",
			input:      "Subject: hi\nX-A: b\n",
			wantStatus: Status{},
			wantOutput: "Subject: hi\nX-A: b\n",
		},
		{
			name:       "unterminated last header gets a newline",
			input:      "From: a@x",
			wantStatus: Status{HasOriginator: true},
			wantOutput: "From: a@x\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lr := NewLineReader(strings.NewReader(tt.input))
			var out bytes.Buffer

			st, err := CopyHeaders(lr, &out)
			if err != nil {
				t.Fatalf("CopyHeaders() error = %v", err)
			}
			if st != tt.wantStatus {
				t.Errorf("status = %+v, want %+v", st, tt.wantStatus)
			}
			if out.String() != tt.wantOutput {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOutput)
			}

			var rest bytes.Buffer
			if err := CopyBody(lr, &rest); err != nil {
				t.Fatalf("CopyBody() error = %v", err)
			}
			if rest.String() != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest.String(), tt.wantRest)
			}
		})
	}
}

func TestTraceHeader(t *testing.T) {
	want := "Received: for bob with local (attomail) (envelope-from u); " + fixedDate + "\n"
	if got := TraceHeader(testEnv); got != want {
		t.Errorf("TraceHeader() = %q, want %q", got, want)
	}
}

func TestTransformKeepsOriginator(t *testing.T) {
	var out bytes.Buffer
	n, err := Transform(strings.NewReader("From: a@x\n\nhello\n"), &out, testEnv)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := "Received: for bob with local (attomail) (envelope-from u); " + fixedDate + "\n" +
		"From: a@x\n" +
		"Date: " + fixedDate + "\n" +
		"\n" +
		"hello\n"
	if out.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", out.String(), want)
	}
	if n != int64(len(want)) {
		t.Errorf("Transform() = %d bytes, want %d", n, len(want))
	}
}

func TestTransformEmptyHeaderBlock(t *testing.T) {
	var out bytes.Buffer
	if _, err := Transform(strings.NewReader("\nBody"), &out, testEnv); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := "Received: for bob with local (attomail) (envelope-from u); " + fixedDate + "\n" +
		"Date: " + fixedDate + "\n" +
		"From: u\n" +
		"\n" +
		"Body"
	if out.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", out.String(), want)
	}
}

func TestTransformEmptyInput(t *testing.T) {
	var out bytes.Buffer
	if _, err := Transform(strings.NewReader(""), &out, testEnv); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := TraceHeader(testEnv) + "Date: " + fixedDate + "\nFrom: u\n\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestTransformNoBody(t *testing.T) {
	var out bytes.Buffer
	input := "From: a@x\nDate: yesterday\nSubject: s\n"
	if _, err := Transform(strings.NewReader(input), &out, testEnv); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	want := TraceHeader(testEnv) + input + "\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestTransformTraceFirstInputReceivedKept(t *testing.T) {
	var out bytes.Buffer
	forged := "Received: from relay; forged\n"
	input := forged + "From: a@x\n\nbody\n"
	if _, err := Transform(strings.NewReader(input), &out, testEnv); err != nil {
		t.Fatal(err)
	}

	headerBlock, _, _ := strings.Cut(out.String(), "\n\n")
	lines := strings.Split(headerBlock, "\n")
	if lines[0] != strings.TrimSuffix(TraceHeader(testEnv), "\n") {
		t.Errorf("first line = %q, want the generated trace header", lines[0])
	}

	// Earlier hops' Received: lines are ordinary headers and pass through
	// after ours, in their original position.
	var received []string
	for _, l := range lines {
		if strings.HasPrefix(l, "Received: ") {
			received = append(received, l)
		}
	}
	if len(received) != 2 {
		t.Fatalf("header block has %d Received: lines, want 2:\n%s", len(received), headerBlock)
	}
	if received[1]+"\n" != forged {
		t.Errorf("second Received: = %q, want input line %q", received[1], forged)
	}
	if lines[1]+"\n" != forged {
		t.Errorf("input Received: moved to line %q", lines[1])
	}
}

func TestTransformUnterminatedHeaderNotFused(t *testing.T) {
	var out bytes.Buffer
	if _, err := Transform(strings.NewReader("Subject: hi"), &out, testEnv); err != nil {
		t.Fatal(err)
	}

	want := TraceHeader(testEnv) +
		"Subject: hi\n" +
		"Date: " + FormatDate(testEnv.Received) + "\n" +
		"From: " + testEnv.Sender + "\n" +
		"\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestTransformExactlyOneOriginatorAndDate(t *testing.T) {
	inputs := []string{
		"",
		"\n",
		"From: a@x\n\n",
		"Date: d\n\n",
		"From: a@x\nDate: d\n\nFrom: in body\nDate: in body\n",
		"Subject: s\n\nbody",
	}

	for _, input := range inputs {
		var out bytes.Buffer
		if _, err := Transform(strings.NewReader(input), &out, testEnv); err != nil {
			t.Fatalf("Transform(%q) error = %v", input, err)
		}

		headerBlock, _, found := strings.Cut(out.String(), "\n\n")
		if !found {
			t.Fatalf("Transform(%q): no blank line in %q", input, out.String())
		}
		var from, date int
		for _, line := range strings.Split(headerBlock, "\n") {
			if strings.HasPrefix(line, "From: ") {
				from++
			}
			if strings.HasPrefix(line, "Date: ") {
				date++
			}
		}
		if from != 1 || date != 1 {
			t.Errorf("Transform(%q): %d From and %d Date headers, want 1 each", input, from, date)
		}
	}
}

func TestTransformBodyPreserved(t *testing.T) {
	body := "line one\r\n\n\x00binary\xff\nFrom: not a header\n\nno trailing newline"
	var out bytes.Buffer
	if _, err := Transform(strings.NewReader("Subject: s\n\n"+body), &out, testEnv); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.String(), "\n\n"+body) {
		t.Errorf("body not preserved: %q", out.String())
	}
}

func TestTransformLongLine(t *testing.T) {
	long := "X-Long: " + strings.Repeat("a", 10000) + "\n"
	var out bytes.Buffer
	if _, err := Transform(strings.NewReader(long+"From: a@x\n\nbody"), &out, testEnv); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), long+"From: a@x\n") {
		t.Error("long header line not copied intact")
	}
	if strings.Count(out.String(), "From: ") != 1 {
		t.Error("From: header synthesized despite being present")
	}
}

func TestTransformReadError(t *testing.T) {
	r := iotest.ErrReader(errors.New("disk gone"))
	_, err := Transform(r, &bytes.Buffer{}, testEnv)
	if !errors.Is(err, ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTransformWriteError(t *testing.T) {
	_, err := Transform(strings.NewReader("From: a@x\n\nhi\n"), failWriter{}, testEnv)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
}
