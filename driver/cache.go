package driver

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/spirit-labs/preagg/progbuild"
)

// ProgramCache keeps compiled programs keyed by query fingerprint so that repeated queries skip compilation.
type ProgramCache struct {
	cache *lru.Cache
}

func NewProgramCache(size int) (*ProgramCache, error) {
	var cache *lru.Cache
	if size > 0 {
		var err error
		cache, err = lru.New(size)
		if err != nil {
			return nil, err
		}
	}
	return &ProgramCache{cache: cache}, nil
}

func (p *ProgramCache) GetOrCompile(q progbuild.Query) (*progbuild.Program, error) {
	key := q.Fingerprint()
	if p.cache != nil {
		prog, ok := p.cache.Get(key)
		if ok {
			return prog.(*progbuild.Program), nil
		}
	}
	prog, err := progbuild.Compile(q)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Add(key, prog)
	}
	return prog, nil
}

func (p *ProgramCache) Len() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.Len()
}
