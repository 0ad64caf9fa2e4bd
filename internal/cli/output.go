package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/pkg/utils"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "%s\n", msg)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "error: %s\n", msg)
}

func (f *Formatter) Session(info *domain.SessionInfo) {
	fmt.Fprintf(f.w, "Session:   %s\n", info.ID)
	fmt.Fprintf(f.w, "Room:      %s\n", info.RoomName)
	if info.Identity != "" {
		fmt.Fprintf(f.w, "Identity:  %s\n", info.Identity)
	}
	fmt.Fprintf(f.w, "Connected: %t (%d participants, %d tracks)\n",
		info.State.Connected, info.State.Participants, info.State.Tracks)
	fmt.Fprintf(f.w, "Opened:    %s (%s ago)\n",
		info.OpenedAt.Format(time.RFC3339), utils.FormatDuration(utils.Since(info.OpenedAt)))
	f.Recording(domain.NewRecordingView(info.Recording))
}

func (f *Formatter) Recording(view domain.RecordingView) {
	fmt.Fprintf(f.w, "Recording: %s [%s]", view.Status, view.Label)
	if view.JobID != "" {
		fmt.Fprintf(f.w, " job=%s", view.JobID)
	}
	if view.LastError != "" {
		fmt.Fprintf(f.w, " last_error=%q", view.LastError)
	}
	fmt.Fprintln(f.w)
}

func (f *Formatter) Command(verb string, issued bool, view domain.RecordingView) {
	if issued {
		fmt.Fprintf(f.w, "%s requested\n", verb)
	} else {
		fmt.Fprintf(f.w, "%s not issued in state %s\n", verb, view.Status)
	}
	f.Recording(view)
}

func (f *Formatter) SessionList(infos []*domain.SessionInfo) {
	if len(infos) == 0 {
		f.Info("No open sessions")
		return
	}
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROOM\tCONNECTED\tRECORDING\tJOB")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			info.ID, info.RoomName, info.State.Connected, info.Recording.Status, info.Recording.JobID)
	}
	tw.Flush()
}

func (f *Formatter) StatusMessage(msg domain.StatusMessage) {
	switch msg.Type {
	case domain.StatusMessageUpdate:
		if msg.Recording != nil {
			fmt.Fprintf(f.w, "%s  ", time.Now().Format("15:04:05"))
			f.Recording(*msg.Recording)
		}
	case domain.StatusMessageClosed:
		f.Info("Session closed")
	case domain.StatusMessageError:
		f.Error(msg.Error)
	}
}
