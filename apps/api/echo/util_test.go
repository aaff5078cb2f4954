package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kazi/apps/api/echo"
	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/coursework"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/email"
	"github.com/trezcool/kazi/services/logger"
	"github.com/trezcool/kazi/storage/database/sqlx"
	"github.com/trezcool/kazi/tests"
)

type fixture struct {
	app     *echoapi.Server
	usrRepo user.Repository
	cwRepo  coursework.Repository
	mailSvc *emailsvc.ConsoleServiceMock

	teacher user.User
	ana     user.User
	bob     user.User
}

func setup(t *testing.T) fixture {
	conf := core.NewTestConfig()
	logger := logsvc.NewTestLogger()
	core.ParseEmailTemplates(conf, logger)

	// set up DB & repos
	db := testutil.PrepareDB(t)
	f := fixture{
		usrRepo: sqlxrepos.NewUserRepository(db),
		cwRepo:  sqlxrepos.NewCourseworkRepository(db),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
	}

	// set up services
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	usrSvc := user.NewService(f.usrRepo)
	cwSvc := coursework.NewService(db, f.cwRepo, usrSvc, f.mailSvc, logger)

	// set up server
	f.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       usrSvc,
		CourseworkSvc: cwSvc,
		Validate:      validate,
		Translator:    translator,
	})

	f.teacher = testutil.CreateUser(t, f.usrRepo, "Teo", "Ruiz", "teo@test.cd", "12345678Z", user.RoleTeacher)
	f.ana = testutil.CreateUser(t, f.usrRepo, "Ana", "Diaz", "ana@test.cd", "11111111A", user.RoleStudent)
	f.bob = testutil.CreateUser(t, f.usrRepo, "Bob", "Abad", "bob@test.cd", "22222222B", user.RoleStudent)
	return f
}

func (f fixture) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newRequest(method, path, data...)
	f.app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("unmarshall() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, f fixture, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
