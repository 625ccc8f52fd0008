package schema

import (
	"sort"
	"strings"
)

// Registry — неизменяемая карта FQN → Entity, строится один раз на старте.
// Все движковые компоненты разрешают целевые сущности связей через него.
type Registry struct {
	entities map[string]*Entity
}

// NewRegistry строит реестр из загруженных сущностей.
func NewRegistry(entities map[string]*Entity) *Registry {
	m := make(map[string]*Entity, len(entities))
	for fqn, e := range entities {
		m[fqn] = e
	}
	return &Registry{entities: m}
}

// Get возвращает сущность по точному FQN.
func (r *Registry) Get(fqn string) (*Entity, bool) {
	e, ok := r.entities[fqn]
	return e, ok
}

// All возвращает сущности в стабильном порядке (по FQN).
func (r *Registry) All() []*Entity {
	keys := make([]string, 0, len(r.entities))
	for k := range r.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.entities[k])
	}
	return out
}

// Len — количество зарегистрированных сущностей.
func (r *Registry) Len() int { return len(r.entities) }

// Resolve разрешает целевое имя связи относительно сущности-источника:
// имя без модуля дополняется модулем источника.
func (r *Registry) Resolve(from *Entity, target string) (*Entity, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, false
	}
	if !strings.Contains(target, ".") && from != nil {
		target = from.Module + "." + target
	}
	if e, ok := r.entities[target]; ok {
		return e, true
	}
	// регистронезависимый fallback
	fqn, ok := r.Normalize(splitFQN(target))
	if !ok {
		return nil, false
	}
	return r.entities[fqn], true
}

// Normalize возвращает FQN ("module.Name") по паре {module, entity}.
// Если module пустой, пытается найти уникальную сущность с таким именем среди всех модулей.
func (r *Registry) Normalize(module, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	ml := strings.ToLower(strings.TrimSpace(module))
	nl := strings.ToLower(strings.TrimSpace(name))

	// 1) есть модуль — ищем точное/регистронезависимое совпадение FQN
	if ml != "" {
		if _, ok := r.entities[module+"."+name]; ok {
			return module + "." + name, true
		}
		for fqn := range r.entities {
			dot := strings.IndexByte(fqn, '.')
			if dot <= 0 {
				continue
			}
			fm, fn := fqn[:dot], fqn[dot+1:]
			if strings.ToLower(fm) == ml && strings.ToLower(fn) == nl {
				return fqn, true
			}
		}
		return "", false
	}

	// 2) модуля нет — ищем ровно одно уникальное имя среди всех
	var found string
	for fqn := range r.entities {
		dot := strings.IndexByte(fqn, '.')
		if dot <= 0 {
			continue
		}
		fn := fqn[dot+1:]
		if strings.ToLower(fn) == nl {
			if found != "" { // неуникально
				return "", false
			}
			found = fqn
		}
	}
	if found != "" {
		return found, true
	}
	return "", false
}

// splitFQN("module.Entity") -> ("module","Entity")
func splitFQN(fqn string) (string, string) {
	i := strings.IndexByte(fqn, '.')
	if i <= 0 || i >= len(fqn)-1 {
		return "", fqn
	}
	return fqn[:i], fqn[i+1:]
}
