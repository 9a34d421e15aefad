package game

type StatusTone string

const (
	ToneNormal  StatusTone = "normal"
	ToneSuccess StatusTone = "success"
	ToneError   StatusTone = "error"
)

// View is what a presentation layer needs to render a state.
type View struct {
	ShowRequestPanel bool
	CaptureEnabled   bool
	ShowLoading      bool
	ShowErrorBanner  bool
	StatusMessage    string
	StatusTone       StatusTone
}

func ViewOf(state State) View {
	hasRequest := state.CurrentRequest != nil

	switch state.Phase {
	case PhaseMenu:
		return View{StatusTone: ToneNormal}
	case PhaseListening:
		return View{ShowLoading: true, StatusMessage: "接続中...", StatusTone: ToneNormal}
	case PhaseRequesting:
		return View{ShowRequestPanel: hasRequest, StatusMessage: "ジェミー君がお話し中...", StatusTone: ToneNormal}
	case PhaseWaitingCapture:
		return View{ShowRequestPanel: hasRequest, CaptureEnabled: true, StatusTone: ToneNormal}
	case PhaseValidating:
		return View{ShowRequestPanel: hasRequest, ShowLoading: true, StatusMessage: "確認中...", StatusTone: ToneNormal}
	case PhaseReaction:
		return View{ShowRequestPanel: hasRequest, StatusMessage: "ジェミー君が喜んでいます！", StatusTone: ToneSuccess}
	}

	return View{ShowErrorBanner: true, StatusTone: ToneError}
}
