package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

const rsPrefix = "/admin/realms/metaform/clients/rs-uuid/authz/resource-server/"

// setupMockResourceServer создаёт mock Keycloak с найденным клиентом rs-uuid.
// handler получает запросы к resource server с путём без префикса.
func setupMockResourceServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, path string)) *Client {
	t.Helper()
	_, client := setupMockKeycloak(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/clients") {
			writeJSONBody(w, http.StatusOK, []KeycloakClient{{ID: "rs-uuid", ClientID: "metaform-replies"}})
			return
		}
		if !strings.HasPrefix(r.URL.Path, rsPrefix) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w, r, strings.TrimPrefix(r.URL.Path, rsPrefix))
	})
	return client
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestClient_EnsureResource проверяет создание ресурса и разрешение конфликта имени.
func TestClient_EnsureResource(t *testing.T) {
	tests := []struct {
		name     string
		create   int
		found    []ResourceRepresentation
		wantID   string
		wantErr  error
		wantFind bool
	}{
		{
			name:   "создан",
			create: http.StatusCreated,
			wantID: "new-id",
		},
		{
			name:     "уже существует",
			create:   http.StatusConflict,
			found:    []ResourceRepresentation{{ID: "old-id", Name: "reply-1"}, {ID: "x", Name: "reply-10"}},
			wantID:   "old-id",
			wantFind: true,
		},
		{
			name:     "несколько с одним именем",
			create:   http.StatusConflict,
			found:    []ResourceRepresentation{{ID: "a", Name: "reply-1"}, {ID: "b", Name: "reply-1"}},
			wantErr:  ErrAmbiguous,
			wantFind: true,
		},
		{
			name:     "исчез после конфликта",
			create:   http.StatusConflict,
			wantErr:  ErrNotFound,
			wantFind: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searched := false
			client := setupMockResourceServer(t, func(w http.ResponseWriter, r *http.Request, path string) {
				switch {
				case r.Method == http.MethodPost && path == "resource":
					var res ResourceRepresentation
					_ = json.NewDecoder(r.Body).Decode(&res)
					if tt.create != http.StatusCreated {
						w.WriteHeader(tt.create)
						return
					}
					res.ID = "new-id"
					writeJSONBody(w, http.StatusCreated, res)
				case r.Method == http.MethodGet && path == "resource":
					searched = true
					if r.URL.Query().Get("name") != "reply-1" || r.URL.Query().Get("exactName") != "true" {
						t.Errorf("неожиданный поиск: %s", r.URL.RawQuery)
					}
					found := tt.found
					if found == nil {
						found = []ResourceRepresentation{}
					}
					writeJSONBody(w, http.StatusOK, found)
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			})

			id, err := client.EnsureResource(context.Background(), ResourceRepresentation{Name: "reply-1"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ошибка = %v, ожидалась %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("EnsureResource ошибка: %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, ожидался %q", id, tt.wantID)
			}
			if searched != tt.wantFind {
				t.Errorf("поиск выполнен = %v, ожидалось %v", searched, tt.wantFind)
			}
		})
	}
}

// TestClient_UpsertScopePermission проверяет создание нового и перезапись существующего разрешения.
func TestClient_UpsertScopePermission(t *testing.T) {
	tests := []struct {
		name       string
		existing   []PolicyRepresentation
		wantMethod string
		wantID     string
	}{
		{
			name:       "новое",
			existing:   []PolicyRepresentation{},
			wantMethod: http.MethodPost,
			wantID:     "created-id",
		},
		{
			name:       "существующее",
			existing:   []PolicyRepresentation{{ID: "perm-id", Name: "reply-1-view"}},
			wantMethod: http.MethodPut,
			wantID:     "perm-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod string
			var gotBody PolicyRepresentation
			client := setupMockResourceServer(t, func(w http.ResponseWriter, r *http.Request, path string) {
				switch {
				case r.Method == http.MethodGet && path == "policy":
					writeJSONBody(w, http.StatusOK, tt.existing)
				case r.Method == http.MethodPost && path == "permission/scope":
					gotMethod = r.Method
					_ = json.NewDecoder(r.Body).Decode(&gotBody)
					gotBody.ID = "created-id"
					writeJSONBody(w, http.StatusCreated, gotBody)
				case r.Method == http.MethodPut && path == "permission/scope/perm-id":
					gotMethod = r.Method
					_ = json.NewDecoder(r.Body).Decode(&gotBody)
					w.WriteHeader(http.StatusNoContent)
				default:
					t.Errorf("неожиданный запрос %s %s", r.Method, path)
					w.WriteHeader(http.StatusNotFound)
				}
			})

			id, err := client.UpsertScopePermission(context.Background(), PolicyRepresentation{
				Name:             "reply-1-view",
				DecisionStrategy: DecisionAffirmative,
				Resources:        []string{"res-1"},
				Scopes:           []string{"reply:view"},
				Policies:         []string{"p-owner", "p-admin"},
			})
			if err != nil {
				t.Fatalf("UpsertScopePermission ошибка: %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, ожидался %q", id, tt.wantID)
			}
			if gotMethod != tt.wantMethod {
				t.Errorf("метод = %s, ожидался %s", gotMethod, tt.wantMethod)
			}
			if gotBody.Type != "scope" || len(gotBody.Policies) != 2 {
				t.Errorf("тело = %+v", gotBody)
			}
		})
	}
}

// TestClient_EnsureGroupPolicy проверяет повторное использование существующей политики.
func TestClient_EnsureGroupPolicy(t *testing.T) {
	created := 0
	client := setupMockResourceServer(t, func(w http.ResponseWriter, r *http.Request, path string) {
		switch {
		case r.Method == http.MethodGet && path == "policy":
			if created > 0 {
				writeJSONBody(w, http.StatusOK, []PolicyRepresentation{{ID: "gp-1", Name: GroupPolicyName("g1")}})
				return
			}
			writeJSONBody(w, http.StatusOK, []PolicyRepresentation{})
		case r.Method == http.MethodPost && path == "policy/group":
			created++
			var p PolicyRepresentation
			_ = json.NewDecoder(r.Body).Decode(&p)
			if len(p.Groups) != 1 || p.Groups[0].ID != "g1" {
				t.Errorf("группы политики = %+v", p.Groups)
			}
			p.ID = "gp-1"
			writeJSONBody(w, http.StatusCreated, p)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	for range 2 {
		id, err := client.EnsureGroupPolicy(context.Background(), "g1")
		if err != nil {
			t.Fatalf("EnsureGroupPolicy ошибка: %v", err)
		}
		if id != "gp-1" {
			t.Errorf("id = %q, ожидался gp-1", id)
		}
	}
	if created != 1 {
		t.Errorf("политика создана %d раз, ожидался 1", created)
	}
}

// TestClient_Evaluate проверяет UMA-решение по токену пользователя.
func TestClient_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{"разрешено", http.StatusOK, `{"result":true}`, true, false},
		{"запрещено", http.StatusForbidden, `{"error":"access_denied"}`, false, false},
		{"ошибка keycloak", http.StatusInternalServerError, `oops`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := setupMockKeycloak(t,
				func(w http.ResponseWriter, r *http.Request) {
					_ = r.ParseForm()
					if r.PostForm.Get("grant_type") != "urn:ietf:params:oauth:grant-type:uma-ticket" {
						t.Errorf("grant_type = %s", r.PostForm.Get("grant_type"))
					}
					if r.Header.Get("Authorization") != "Bearer user-token" {
						t.Errorf("Authorization = %s", r.Header.Get("Authorization"))
					}
					if r.PostForm.Get("permission") != "res-1#reply:view" || r.PostForm.Get("audience") != "metaform-replies" {
						t.Errorf("permission=%s audience=%s", r.PostForm.Get("permission"), r.PostForm.Get("audience"))
					}
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				},
				nil,
			)

			got, err := client.Evaluate(context.Background(), "user-token", "res-1", "reply:view")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("решение = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}

// TestClient_DeleteResource проверяет удаление и отсутствие ресурса.
func TestClient_DeleteResource(t *testing.T) {
	client := setupMockResourceServer(t, func(w http.ResponseWriter, r *http.Request, path string) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if path == "resource/res-1" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	if err := client.DeleteResource(context.Background(), "res-1"); err != nil {
		t.Errorf("DeleteResource ошибка: %v", err)
	}
	if err := client.DeleteResource(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}
