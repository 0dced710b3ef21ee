package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type message struct {
	Subject string
	HTML    string
}

type completionData struct {
	ProjectName   string
	CutPercentage string
	ProjectURL    string
}

type failureData struct {
	ProjectName string
	Error       string
	ProjectURL  string
}

var completionTmpl = template.Must(template.New("completion").Parse(`
<h2>편집이 완료되었습니다!</h2>
<p><strong>프로젝트:</strong> {{.ProjectName}}</p>
<p><strong>컷 비율:</strong> {{.CutPercentage}}%</p>
<p><a href="{{.ProjectURL}}">결과 확인하기</a></p>
`))

var failureTmpl = template.Must(template.New("failure").Parse(`
<h2>처리 중 오류가 발생했습니다</h2>
<p><strong>프로젝트:</strong> {{.ProjectName}}</p>
<p><strong>오류:</strong> {{.Error}}</p>
<p>홀딩된 크레딧은 자동으로 복구되었습니다.</p>
<p><a href="{{.ProjectURL}}">프로젝트 확인하기</a></p>
`))

func renderCompletion(d completionData) (message, error) {
	var buf bytes.Buffer
	if err := completionTmpl.Execute(&buf, d); err != nil {
		return message{}, fmt.Errorf("notify: render completion: %w", err)
	}
	return message{
		Subject: fmt.Sprintf("[어검] %q 편집이 완료되었습니다", d.ProjectName),
		HTML:    buf.String(),
	}, nil
}

func renderFailure(d failureData) (message, error) {
	var buf bytes.Buffer
	if err := failureTmpl.Execute(&buf, d); err != nil {
		return message{}, fmt.Errorf("notify: render failure: %w", err)
	}
	return message{
		Subject: fmt.Sprintf("[어검] %q 처리 중 오류가 발생했습니다", d.ProjectName),
		HTML:    buf.String(),
	}, nil
}
